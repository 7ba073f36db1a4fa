package ffmpeg

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDiagRing_Bounded(t *testing.T) {
	r := newDiagRing(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		r.add(l)
	}

	got := r.lines()
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("lines[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDiagRing_PartialFill(t *testing.T) {
	r := newDiagRing(8)
	r.add("only")

	got := r.lines()
	if len(got) != 1 || got[0] != "only" {
		t.Errorf("lines = %v, want [only]", got)
	}
}

func TestIsProgressLine(t *testing.T) {
	progress := "frame=  120 fps= 30 q=28.0 size=     512kB time=00:00:04.00 bitrate=1048.6kbits/s"
	if !isProgressLine(progress) {
		t.Error("progress line not recognized")
	}

	for _, line := range []string{
		"Stream #0:0: Video: h264 (High), yuv420p, 1920x1080",
		"[mp4 @ 0x55] track 1: codec frame size is not set",
		"Press [q] to stop, [?] for help",
	} {
		if isProgressLine(line) {
			t.Errorf("%q misclassified as progress", line)
		}
	}
}

func TestStripControl(t *testing.T) {
	if got := stripControl("frame=1\rframe=2"); got != "frame=1frame=2" {
		t.Errorf("stripControl = %q", got)
	}
	if got := stripControl("  padded \x1b "); got != "padded" {
		t.Errorf("stripControl = %q", got)
	}
}

func TestProcess_NormalExit(t *testing.T) {
	p := New(zerolog.Nop(), "sh", []string{"-c", "echo starting >&2; exit 0"}, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-p.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("started signal never fired")
	}

	select {
	case <-p.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}

	if got := p.Status().Disposition; got != ExitNormal {
		t.Errorf("disposition = %v, want normal", got)
	}
}

func TestProcess_AbnormalExitCarriesDiagnostics(t *testing.T) {
	done := make(chan ExitStatus, 1)
	p := New(zerolog.Nop(), "sh", []string{"-c", "echo bad input >&2; exit 1"}, func(st ExitStatus) {
		done <- st
	})
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var st ExitStatus
	select {
	case st = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}

	if st.Disposition != ExitAbnormal {
		t.Errorf("disposition = %v, want abnormal", st.Disposition)
	}
	if st.Code != 1 {
		t.Errorf("code = %d, want 1", st.Code)
	}
	if len(st.Diagnostics) == 0 || st.Diagnostics[len(st.Diagnostics)-1] != "bad input" {
		t.Errorf("diagnostics = %v, want trailing %q", st.Diagnostics, "bad input")
	}
}

func TestProcess_KillAfterStopIsExpected(t *testing.T) {
	p := New(zerolog.Nop(), "sh", []string{"-c", "echo up >&2; sleep 60"}, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	<-p.Started()
	p.Stop()

	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process never exited after stop")
	}

	if got := p.Status().Disposition; got != ExitExpected {
		t.Errorf("disposition = %v, want expected", got)
	}
}

func TestProcess_Exit137AfterStopIsExpected(t *testing.T) {
	// Some container runtimes report a kill as exit code 137 instead of a
	// signal; after a stop request that is still an expected end.
	p := New(zerolog.Nop(), "sh", []string{"-c", `echo up >&2; trap "exit 137" TERM; while true; do sleep 1; done`}, nil)
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	<-p.Started()
	p.Stop()

	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process never exited after stop")
	}

	st := p.Status()
	if st.Disposition != ExitExpected {
		t.Errorf("disposition = %v (code %d), want expected", st.Disposition, st.Code)
	}
}

func TestProcess_StartFailure(t *testing.T) {
	p := New(zerolog.Nop(), "/nonexistent/binary", nil, nil)
	if err := p.Start(); err == nil {
		t.Fatal("expected start error for missing executable")
	}
}
