package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Device        DeviceConfig        `yaml:"device" json:"device"`
	Capture       CaptureConfig       `yaml:"capture" json:"capture"`
	Output        OutputConfig        `yaml:"output" json:"output"`
	Transcription TranscriptionConfig `yaml:"transcription" json:"transcription"`
	HTTP          HTTPConfig          `yaml:"http" json:"http"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
}

// DeviceConfig describes the remote microphone and the local socket
type DeviceConfig struct {
	Address          string  `yaml:"address" json:"address"`                     // host:port of the microphone
	LocalAddress     string  `yaml:"local_address" json:"local_address"`         // local bind address, ":0" for ephemeral
	DiscoveryService string  `yaml:"discovery_service" json:"discovery_service"` // mDNS service type, empty disables discovery
	DiscoveryTimeout float64 `yaml:"discovery_timeout" json:"discovery_timeout"` // seconds
	ReceiveTimeout   float64 `yaml:"receive_timeout" json:"receive_timeout"`     // seconds
	RetryBackoff     float64 `yaml:"retry_backoff" json:"retry_backoff"`         // seconds
	BufferSize       int     `yaml:"buffer_size" json:"buffer_size"`             // bytes per datagram read
}

// CaptureConfig contains buffering and segmentation parameters
type CaptureConfig struct {
	SampleRate       int     `yaml:"sample_rate" json:"sample_rate"`
	SegmentDuration  float64 `yaml:"segment_duration" json:"segment_duration"` // seconds
	Retention        string  `yaml:"retention" json:"retention"`
	MaxBufferSeconds float64 `yaml:"max_buffer_seconds" json:"max_buffer_seconds"` // 0 means unbounded
	Overflow         string  `yaml:"overflow" json:"overflow"`
	MaxWait          float64 `yaml:"max_wait" json:"max_wait"`             // seconds, 0 disables the stall bound
	ResetOnStart     bool    `yaml:"reset_on_start" json:"reset_on_start"` // drop samples left from a previous session
}

// OutputConfig selects where segments and transcripts are written
type OutputConfig struct {
	Backend   string   `yaml:"backend" json:"backend"`
	Directory string   `yaml:"directory" json:"directory"`
	Resume    bool     `yaml:"resume" json:"resume"` // continue numbering after existing segments
	S3        S3Config `yaml:"s3" json:"s3"`
}

// S3Config contains S3-compatible object storage settings
type S3Config struct {
	Bucket       string `yaml:"bucket" json:"bucket"`
	Prefix       string `yaml:"prefix" json:"prefix"`
	Region       string `yaml:"region" json:"region"`
	Endpoint     string `yaml:"endpoint" json:"endpoint"`
	AccessKey    string `yaml:"access_key" json:"access_key"`
	SecretKey    string `yaml:"secret_key" json:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style" json:"use_path_style"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Enabled          bool    `yaml:"enabled" json:"enabled"`
	Endpoint         string  `yaml:"endpoint" json:"endpoint"`
	APIKey           string  `yaml:"api_key" json:"api_key"`
	Language         string  `yaml:"language" json:"language"`
	Timeout          int     `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries       int     `yaml:"max_retries" json:"max_retries"`
	SilenceThreshold float64 `yaml:"silence_threshold" json:"silence_threshold"` // RMS in [0, 1], 0 transcribes everything
	SampleRate       int     `yaml:"sample_rate" json:"sample_rate"`             // upload rate, 0 keeps the capture rate
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration that talks to a microphone on its
// default access-point address and writes into the working directory.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Address:          "192.168.4.1:5001",
			LocalAddress:     ":0",
			DiscoveryTimeout: 3,
			ReceiveTimeout:   1,
			RetryBackoff:     1,
			BufferSize:       2048,
		},
		Capture: CaptureConfig{
			SampleRate:      16000,
			SegmentDuration: 5,
			Retention:       "fifo",
			Overflow:        "drop_oldest",
		},
		Output: OutputConfig{
			Backend:   "local",
			Directory: ".",
		},
		Transcription: TranscriptionConfig{
			Timeout:    30,
			MaxRetries: 3,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	if d.Address == "" && d.DiscoveryService == "" {
		return fmt.Errorf("address cannot be empty when discovery_service is not set")
	}

	if d.Address != "" {
		if _, _, err := net.SplitHostPort(d.Address); err != nil {
			return fmt.Errorf("address must be host:port, got '%s'", d.Address)
		}
	}

	if d.DiscoveryService != "" && d.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery_timeout must be positive, got %f", d.DiscoveryTimeout)
	}

	if d.ReceiveTimeout <= 0 {
		return fmt.Errorf("receive_timeout must be positive, got %f", d.ReceiveTimeout)
	}

	if d.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative, got %f", d.RetryBackoff)
	}

	if d.BufferSize < 2 || d.BufferSize > 65535 {
		return fmt.Errorf("buffer_size must be between 2 and 65535 bytes, got %d", d.BufferSize)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SampleRate < 1 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}

	if c.SegmentDuration <= 0 {
		return fmt.Errorf("segment_duration must be positive, got %f", c.SegmentDuration)
	}

	if c.SegmentSamples() < 1 {
		return fmt.Errorf("segment_duration %f is shorter than one sample at %d Hz", c.SegmentDuration, c.SampleRate)
	}

	validRetention := map[string]bool{"fifo": true, "window": true}
	if !validRetention[c.Retention] {
		return fmt.Errorf("retention must be 'fifo' or 'window', got '%s'", c.Retention)
	}

	if c.MaxBufferSeconds < 0 {
		return fmt.Errorf("max_buffer_seconds cannot be negative, got %f", c.MaxBufferSeconds)
	}

	if c.MaxBufferSeconds > 0 && c.MaxBufferSeconds < c.SegmentDuration {
		return fmt.Errorf("max_buffer_seconds (%f) must be at least segment_duration (%f)",
			c.MaxBufferSeconds, c.SegmentDuration)
	}

	validOverflow := map[string]bool{"drop_oldest": true, "block": true}
	if !validOverflow[c.Overflow] {
		return fmt.Errorf("overflow must be 'drop_oldest' or 'block', got '%s'", c.Overflow)
	}

	if c.MaxWait < 0 {
		return fmt.Errorf("max_wait cannot be negative, got %f", c.MaxWait)
	}

	if c.MaxWait > 0 && c.MaxWait < c.SegmentDuration {
		return fmt.Errorf("max_wait (%f) must be 0 or at least segment_duration (%f)",
			c.MaxWait, c.SegmentDuration)
	}

	return nil
}

// Validate validates output configuration
func (o *OutputConfig) Validate() error {
	switch o.Backend {
	case "local":
		if o.Directory == "" {
			return fmt.Errorf("directory cannot be empty for the local backend")
		}
	case "s3":
		if o.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket cannot be empty for the s3 backend")
		}
		if o.S3.Region == "" {
			return fmt.Errorf("s3.region cannot be empty for the s3 backend")
		}
		if (o.S3.AccessKey == "") != (o.S3.SecretKey == "") {
			return fmt.Errorf("s3.access_key and s3.secret_key must be set together")
		}
	default:
		return fmt.Errorf("backend must be 'local' or 's3', got '%s'", o.Backend)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when transcription is enabled")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.SilenceThreshold < 0 || t.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", t.SilenceThreshold)
	}

	if t.SampleRate < 0 {
		return fmt.Errorf("sample_rate cannot be negative, got %d", t.SampleRate)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	return nil
}

// GetDiscoveryTimeout returns the mDNS query timeout as a time.Duration
func (d *DeviceConfig) GetDiscoveryTimeout() time.Duration {
	return seconds(d.DiscoveryTimeout)
}

// GetReceiveTimeout returns the per-read deadline as a time.Duration
func (d *DeviceConfig) GetReceiveTimeout() time.Duration {
	return seconds(d.ReceiveTimeout)
}

// GetRetryBackoff returns the pause after a transport error as a time.Duration
func (d *DeviceConfig) GetRetryBackoff() time.Duration {
	return seconds(d.RetryBackoff)
}

// GetSegmentDuration returns the segment duration as a time.Duration
func (c *CaptureConfig) GetSegmentDuration() time.Duration {
	return seconds(c.SegmentDuration)
}

// GetMaxWait returns the stall bound as a time.Duration
func (c *CaptureConfig) GetMaxWait() time.Duration {
	return seconds(c.MaxWait)
}

// SegmentSamples returns sampleRate × segmentDuration
func (c *CaptureConfig) SegmentSamples() int {
	return int(float64(c.SampleRate) * c.SegmentDuration)
}

// CapacitySamples returns the buffer cap in samples, 0 when unbounded
func (c *CaptureConfig) CapacitySamples() int {
	return int(float64(c.SampleRate) * c.MaxBufferSeconds)
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
