package camera

import (
	"strings"
	"sync"
	"time"
)

const (
	defaultProbeSize = 32768
	maxProbeSize     = 2 * 1024 * 1024

	// probeCooldown is how long an elevated probe size stays pinned after
	// the failure that raised it.
	probeCooldown = 15 * time.Minute
)

// probeControl adapts the demuxer probe size for piped fMP4 input. Abnormal
// transcoder exits on that path double the size up to a ceiling; a failure
// while an elevated size is still pinned makes the elevation permanent,
// otherwise the size reverts after a cooldown.
type probeControl struct {
	mu          sync.Mutex
	base        int64
	ceiling     int64
	current     int64
	pinnedUntil time.Time
	permanent   bool

	now func() time.Time
}

func newProbeControl() *probeControl {
	return &probeControl{
		base:    defaultProbeSize,
		ceiling: maxProbeSize,
		current: defaultProbeSize,
		now:     time.Now,
	}
}

// size reports the probe size the next invocation should use, reverting an
// expired elevation first.
func (p *probeControl) size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.permanent && p.current > p.base && p.now().After(p.pinnedUntil) {
		p.current = p.base
	}
	return p.current
}

// recordFailure raises the probe size in response to an abnormal exit on the
// piped-input path.
func (p *probeControl) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current > p.base && p.now().Before(p.pinnedUntil) {
		// The elevated size itself failed within its window: stop
		// reverting, this source needs it every time.
		p.permanent = true
	}
	if p.current < p.ceiling {
		p.current *= 2
		if p.current > p.ceiling {
			p.current = p.ceiling
		}
	}
	p.pinnedUntil = p.now().Add(probeCooldown)
}

// benignExitSignatures mark abnormal transcoder exits that reflect the
// source ending rather than a pipeline fault, such as the camera closing a
// live stream at the end of a motion event.
var benignExitSignatures = []string{
	"pipe:0: End of file",
	"Connection reset by peer",
	"Immediate exit requested",
}

// benignExit reports whether the diagnostics of an abnormal exit match a
// known benign end-of-stream signature.
func benignExit(diagnostics []string) bool {
	for _, line := range diagnostics {
		for _, sig := range benignExitSignatures {
			if strings.Contains(line, sig) {
				return true
			}
		}
	}
	return false
}
