// Package config resolves, loads, validates, and defaults murmur configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by murmur.
type Config struct {
	Recorder  RecorderConfig  `mapstructure:"recorder" yaml:"recorder"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// RecorderConfig locates the capture worker binary.
type RecorderConfig struct {
	Path                string   `mapstructure:"path" yaml:"path"`
	Args                []string `mapstructure:"args" yaml:"args"`
	DeviceListTimeoutMS int      `mapstructure:"device_list_timeout_ms" yaml:"device_list_timeout_ms"`
}

// DeviceListTimeout returns the device enumeration deadline. Zero means wait forever.
func (r RecorderConfig) DeviceListTimeout() time.Duration {
	return time.Duration(r.DeviceListTimeoutMS) * time.Millisecond
}

// AudioConfig controls the requested capture device and stream format.
type AudioConfig struct {
	Device     string `mapstructure:"device" yaml:"device"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	ChunkMS    int    `mapstructure:"chunk_ms" yaml:"chunk_ms"`
}

// RecordingConfig controls where finished takes are written.
type RecordingConfig struct {
	OutputDir     string `mapstructure:"output_dir" yaml:"output_dir"`
	MaxDurationMS int    `mapstructure:"max_duration_ms" yaml:"max_duration_ms"`
}

// MaxDuration returns the automatic stop deadline. Zero disables it.
func (r RecordingConfig) MaxDuration() time.Duration {
	return time.Duration(r.MaxDurationMS) * time.Millisecond
}

// EventsConfig controls the websocket and metrics listener.
type EventsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LogConfig controls the JSONL runtime log.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Warning is a non-fatal load/validation message.
type Warning struct {
	Message string
}
