package camera

import (
	"testing"
	"time"

	"github.com/camkit/protect-stream/device"
)

func TestPrebufferWindow(t *testing.T) {
	retention := 8 * time.Second

	if got := prebufferWindow(recordingConfig(4000), retention); got != 4*time.Second {
		t.Errorf("window = %v, want requested 4s", got)
	}

	// A request beyond what the buffer retains is bounded to the buffer.
	cfg := recordingConfig(4000)
	cfg.SelectedGeneralConfiguration.PrebufferLength = 30000
	if got := prebufferWindow(cfg, retention); got != retention {
		t.Errorf("window = %v, want capped at %v", got, retention)
	}

	cfg.SelectedGeneralConfiguration.PrebufferLength = 0
	if got := prebufferWindow(cfg, retention); got != retention {
		t.Errorf("window = %v for zero request, want full retention", got)
	}
}

func TestRecordingSession_CloseEndsSegments(t *testing.T) {
	ctrl := &recordingController{}
	o, _ := newTestOrchestrator(t, ctrl, device.KindCamera)

	rs, err := o.StartRecording(recordingConfig(4000))
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}

	rs.Close()
	rs.Close() // idempotent

	select {
	case _, ok := <-rs.Segments():
		if ok {
			t.Fatal("no media was produced, channel should close without segments")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("segment channel did not close after Close")
	}
}

func TestStartRecording_DirectPathEnablesChannel(t *testing.T) {
	ctrl := &recordingController{}
	o, _ := newTestOrchestrator(t, ctrl, device.KindCamera)

	rs, err := o.StartRecording(recordingConfig(4000))
	if err != nil {
		t.Fatalf("start recording: %v", err)
	}
	defer rs.Close()

	ctrl.mu.Lock()
	channels := append([]string(nil), ctrl.channels...)
	ctrl.mu.Unlock()
	if len(channels) != 1 || channels[0] != "high" {
		t.Fatalf("channels enabled = %v, want [high]", channels)
	}
}
