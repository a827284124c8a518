package config

import (
	"fmt"
	"net"
	"strings"
)

var commonSampleRates = map[int]bool{
	8000: true, 16000: true, 22050: true, 24000: true,
	32000: true, 44100: true, 48000: true, 96000: true,
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Recorder.Path) == "" {
		return nil, fmt.Errorf("recorder.path must not be empty")
	}
	if cfg.Recorder.DeviceListTimeoutMS < 0 {
		return nil, fmt.Errorf("recorder.device_list_timeout_ms must be >= 0")
	}
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 192000")
	}
	if cfg.Audio.ChunkMS < 5 || cfg.Audio.ChunkMS > 1000 {
		return nil, fmt.Errorf("audio.chunk_ms must be between 5 and 1000")
	}
	if strings.TrimSpace(cfg.Recording.OutputDir) == "" {
		return nil, fmt.Errorf("recording.output_dir must not be empty")
	}
	if cfg.Recording.MaxDurationMS < 0 {
		return nil, fmt.Errorf("recording.max_duration_ms must be >= 0")
	}
	if listen := strings.TrimSpace(cfg.Events.Listen); listen != "" {
		if _, _, err := net.SplitHostPort(listen); err != nil {
			return nil, fmt.Errorf("events.listen must be host:port: %w", err)
		}
	}
	if !logLevels[strings.ToLower(strings.TrimSpace(cfg.Log.Level))] {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if strings.TrimSpace(cfg.Audio.Device) == "" {
		warnings = append(warnings, Warning{Message: "audio.device is empty; the default source will be used"})
	}
	if !commonSampleRates[cfg.Audio.SampleRate] {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.sample_rate %d is unusual; the audio server may resample", cfg.Audio.SampleRate)})
	}
	if cfg.Recorder.DeviceListTimeoutMS == 0 {
		warnings = append(warnings, Warning{Message: "recorder.device_list_timeout_ms is 0; device listing waits indefinitely"})
	}

	return warnings, nil
}
