// Package meter computes the live volume level shown while recording.
package meter

import "encoding/binary"

// FullScale is the largest positive int16 sample magnitude.
const FullScale = 32767

// Peak returns the largest absolute sample magnitude in payload, normalized to
// [0, 1]. The payload is read as little-endian int16 samples; a trailing odd
// byte is ignored. Payloads shorter than one sample yield 0.
func Peak(payload []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(payload); i += 2 {
		sample := int32(int16(binary.LittleEndian.Uint16(payload[i:])))
		if sample < 0 {
			sample = -sample
		}
		if sample > peak {
			peak = sample
		}
	}

	return clamp(float64(peak) / FullScale)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
