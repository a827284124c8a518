package config

import "path/filepath"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	outputDir := ""
	if state, err := StateDir(); err == nil {
		outputDir = filepath.Join(state, "recordings")
	}

	return Config{
		Recorder: RecorderConfig{
			Path:                "murmur-recorder",
			Args:                []string{},
			DeviceListTimeoutMS: 3000,
		},
		Audio: AudioConfig{
			Device:     "default",
			SampleRate: 16000,
			ChunkMS:    20,
		},
		Recording: RecordingConfig{OutputDir: outputDir},
		Log:       LogConfig{Level: "info"},
	}
}

// defaults maps every known config key to its value in cfg.
func defaults(cfg Config) map[string]any {
	return map[string]any{
		"recorder.path":                   cfg.Recorder.Path,
		"recorder.args":                   cfg.Recorder.Args,
		"recorder.device_list_timeout_ms": cfg.Recorder.DeviceListTimeoutMS,
		"audio.device":                    cfg.Audio.Device,
		"audio.sample_rate":               cfg.Audio.SampleRate,
		"audio.chunk_ms":                  cfg.Audio.ChunkMS,
		"recording.output_dir":            cfg.Recording.OutputDir,
		"recording.max_duration_ms":       cfg.Recording.MaxDurationMS,
		"events.listen":                   cfg.Events.Listen,
		"log.level":                       cfg.Log.Level,
	}
}
