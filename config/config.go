// Package config loads runtime configuration from environment variables
// with sensible defaults. Flags in cmd/ layer accessory identity on top.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Transcoder
	FFmpegPath           string
	EncoderProfile       string // CPU, VAAPI or QSV
	ForceTranscode       bool
	HighLatencyTranscode bool
	CropFilter           string

	// RTP
	PortRangeStart int
	PortRangeEnd   int

	// Timeshift
	Retention time.Duration

	// Observability
	MetricsAddr string
	LogLevel    string
}

// Load reads configuration from the environment, falling back to defaults.
func Load() *Config {
	return &Config{
		FFmpegPath:           getEnv("FFMPEG_PATH", "ffmpeg"),
		EncoderProfile:       getEnv("ENCODER_PROFILE", "CPU"),
		ForceTranscode:       getBoolEnv("FORCE_TRANSCODE", false),
		HighLatencyTranscode: getBoolEnv("HIGH_LATENCY_TRANSCODE", false),
		CropFilter:           getEnv("CROP_FILTER", ""),
		PortRangeStart:       getIntEnv("RTP_PORT_START", 40000),
		PortRangeEnd:         getIntEnv("RTP_PORT_END", 40200),
		Retention:            getDurationEnv("TIMESHIFT_RETENTION", 8*time.Second),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
