package capture

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes little-endian 16-bit PCM to path as a WAV file. A trailing odd
// byte is dropped.
func WriteWAV(path string, pcm []byte, sampleRate int, channels int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		channels = 1
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open recording %q: %w", path, err)
	}

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samplesFromPCM(pcm),
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = file.Close()
		return fmt.Errorf("encode recording: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("finalize recording: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close recording: %w", err)
	}
	return nil
}

// WriteWAV writes everything captured since Begin.
func (c *Collector) WriteWAV(path string) error {
	c.mu.Lock()
	pcm := make([]byte, len(c.pcm))
	copy(pcm, c.pcm)
	rate, channels := c.sampleRate, c.channels
	c.mu.Unlock()

	return WriteWAV(path, pcm, rate, channels)
}

func samplesFromPCM(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}
