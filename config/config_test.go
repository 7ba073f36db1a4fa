package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want ffmpeg", cfg.FFmpegPath)
	}
	if cfg.PortRangeStart >= cfg.PortRangeEnd {
		t.Errorf("port range [%d, %d] is empty", cfg.PortRangeStart, cfg.PortRangeEnd)
	}
	if cfg.Retention != 8*time.Second {
		t.Errorf("Retention = %v, want 8s", cfg.Retention)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("FORCE_TRANSCODE", "true")
	t.Setenv("RTP_PORT_START", "50000")
	t.Setenv("TIMESHIFT_RETENTION", "12s")
	t.Setenv("RTP_PORT_END", "not-a-number")

	cfg := Load()

	if cfg.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("FFmpegPath = %q", cfg.FFmpegPath)
	}
	if !cfg.ForceTranscode {
		t.Error("ForceTranscode not read from environment")
	}
	if cfg.PortRangeStart != 50000 {
		t.Errorf("PortRangeStart = %d, want 50000", cfg.PortRangeStart)
	}
	if cfg.Retention != 12*time.Second {
		t.Errorf("Retention = %v, want 12s", cfg.Retention)
	}
	if cfg.PortRangeEnd != 40200 {
		t.Errorf("unparseable value should fall back to default, got %d", cfg.PortRangeEnd)
	}
}
