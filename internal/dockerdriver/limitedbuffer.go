package dockerdriver

import "sync"

// limitedBuffer caps how much subprocess output it retains, so a runaway
// sandboxed command cannot exhaust host memory through exec output. Once
// the cap is hit, further writes are dropped but still reported as
// consumed to exec.Cmd, and Truncated is surfaced on the result (supplemented
// feature: output truncation, grounded on the pack's goclaw/picoclaw output
// capping for sandbox exec output).
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if len(b.buf) >= b.limit {
		b.truncated = true
		return n, nil
	}
	room := b.limit - len(b.buf)
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return n, nil
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
