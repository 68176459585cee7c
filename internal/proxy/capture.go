package proxy

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

const drainChunk = 32 << 10

// captureBody tees a request body into a bounded buffer while the upstream
// transport streams it. done is called exactly once: when the body reaches
// EOF, or when the forwarder calls finish.
//
// The transport may close or keep reading the body from its own goroutine
// after the round trip returns, so Close only detaches the transport. The
// inbound body stays readable until finish drains what the transport left
// unread and closes it.
type captureBody struct {
	rc    io.ReadCloser
	limit int64
	done  func(raw []byte, complete bool)

	readMu   sync.Mutex // serializes reads of rc
	detached atomic.Bool
	finished sync.Once

	mu        sync.Mutex
	buf       bytes.Buffer
	truncated bool
	eof       bool
	published bool
}

func newCaptureBody(rc io.ReadCloser, limit int64, done func(raw []byte, complete bool)) *captureBody {
	return &captureBody{rc: rc, limit: limit, done: done}
}

func (b *captureBody) Read(p []byte) (int, error) {
	if b.detached.Load() {
		return 0, http.ErrBodyReadAfterClose
	}
	b.readMu.Lock()
	defer b.readMu.Unlock()
	return b.read(p)
}

// read requires readMu.
func (b *captureBody) read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.capture(p[:n])
	}
	if err == io.EOF {
		b.mu.Lock()
		b.eof = true
		b.mu.Unlock()
		b.publish()
	}
	return n, err
}

func (b *captureBody) Close() error {
	b.detached.Store(true)
	return nil
}

func (b *captureBody) capture(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published || b.truncated {
		return
	}
	room := b.limit - int64(b.buf.Len())
	if int64(len(p)) > room {
		p = p[:max(room, 0)]
		b.truncated = true
	}
	b.buf.Write(p)
}

// finish reads whatever the transport did not consume, stopping once the
// capture limit is passed, then closes the inbound body and publishes.
// It must run before the handler returns.
func (b *captureBody) finish() {
	b.finished.Do(func() {
		b.detached.Store(true)

		b.readMu.Lock()
		b.drain()
		_ = b.rc.Close()
		b.readMu.Unlock()

		b.publish()
	})
}

// drain requires readMu.
func (b *captureBody) drain() {
	chunk := make([]byte, drainChunk)
	for {
		b.mu.Lock()
		stop := b.eof || b.truncated || b.published
		b.mu.Unlock()
		if stop {
			return
		}
		if _, err := b.read(chunk); err != nil {
			return
		}
	}
}

// publish hands a copy of the captured bytes to done. complete is false when
// the body was cut at the capture limit or could not be read to the end.
func (b *captureBody) publish() {
	b.mu.Lock()
	if b.published {
		b.mu.Unlock()
		return
	}
	b.published = true
	raw := bytes.Clone(b.buf.Bytes())
	complete := b.eof && !b.truncated
	b.mu.Unlock()

	b.done(raw, complete)
}
