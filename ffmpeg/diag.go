package ffmpeg

import (
	"regexp"
	"strings"
	"sync"
)

// diagRingSize bounds how many recent diagnostic lines are retained for
// error reporting.
const diagRingSize = 64

// diagRing is a bounded ring of recent diagnostic lines.
type diagRing struct {
	mu    sync.Mutex
	buf   []string
	next  int
	count int
}

func newDiagRing(size int) *diagRing {
	return &diagRing{buf: make([]string, size)}
}

func (r *diagRing) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// lines returns the retained lines, oldest first.
func (r *diagRing) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// progressPattern matches ffmpeg's periodic status line, which carries both
// a frame counter and a size counter. Echoing those floods the log.
var progressPattern = regexp.MustCompile(`frame=\s*\d+.*size=\s*\S+`)

func isProgressLine(line string) bool {
	return progressPattern.MatchString(line)
}

// stripControl removes non-printable control characters (ffmpeg uses
// carriage returns to redraw its progress line in place).
func stripControl(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return -1
		}
		return r
	}, s))
}
