package camera

import (
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestProbeControl_DoublesOnFailure(t *testing.T) {
	p := newProbeControl()
	now := time.Unix(1000, 0)
	p.now = fixedClock(now)

	if p.size() != defaultProbeSize {
		t.Fatalf("initial size = %d, want %d", p.size(), defaultProbeSize)
	}

	p.recordFailure()
	if p.size() != 2*defaultProbeSize {
		t.Fatalf("size after failure = %d, want doubled", p.size())
	}
}

func TestProbeControl_CeilingBound(t *testing.T) {
	p := newProbeControl()
	p.now = fixedClock(time.Unix(1000, 0))

	for i := 0; i < 20; i++ {
		p.recordFailure()
	}
	if p.size() != maxProbeSize {
		t.Fatalf("size = %d, want ceiling %d", p.size(), maxProbeSize)
	}
}

func TestProbeControl_RevertsAfterCooldown(t *testing.T) {
	p := newProbeControl()
	now := time.Unix(1000, 0)
	p.now = fixedClock(now)
	p.recordFailure()

	// Still pinned within the cooldown.
	p.now = fixedClock(now.Add(probeCooldown - time.Second))
	if p.size() != 2*defaultProbeSize {
		t.Fatal("elevation dropped before the cooldown expired")
	}

	p.now = fixedClock(now.Add(probeCooldown + time.Second))
	if p.size() != defaultProbeSize {
		t.Fatalf("size = %d after cooldown, want base %d", p.size(), defaultProbeSize)
	}
}

func TestProbeControl_FailureWhilePinnedIsPermanent(t *testing.T) {
	p := newProbeControl()
	now := time.Unix(1000, 0)
	p.now = fixedClock(now)
	p.recordFailure()

	// A second failure inside the window means the elevated size itself was
	// not enough; the elevation never reverts.
	p.now = fixedClock(now.Add(time.Minute))
	p.recordFailure()

	p.now = fixedClock(now.Add(24 * time.Hour))
	if p.size() != 4*defaultProbeSize {
		t.Fatalf("size = %d long after failures, want permanent %d", p.size(), 4*defaultProbeSize)
	}
}

func TestBenignExit(t *testing.T) {
	benign := []string{
		"[mp4 @ 0x55] stream 0, offset 0x30: partial file",
		"pipe:0: End of file",
	}
	if !benignExit(benign) {
		t.Error("end-of-file diagnostics should be benign")
	}

	fault := []string{
		"pipe:0: Invalid data found when processing input",
	}
	if benignExit(fault) {
		t.Error("invalid-data diagnostics are a real fault")
	}
	if benignExit(nil) {
		t.Error("no diagnostics should not match")
	}
}
