package generate

import (
	"strings"
	"time"
)

type StreamConfig struct {
	// MinChunkBytes is the preferred minimum size of an emitted chunk; tiny
	// provider fragments are held until a clean boundary accumulates.
	MinChunkBytes int

	// FlushInterval bounds how long buffered text may sit without a boundary.
	// Checked on Write; a silent provider flushes on its next fragment.
	FlushInterval time.Duration
}

// StreamBuffer smooths raw provider fragments into readable chunks. It
// prefers flushing at sentence boundaries, falls back to word boundaries once
// enough text accumulated, and flushes unconditionally when the interval
// elapses so punctuation-free output still streams.
type StreamBuffer struct {
	config    StreamConfig
	emit      func(string) error
	buf       strings.Builder
	lastFlush time.Time
	now       func() time.Time
}

func NewStreamBuffer(config StreamConfig, emit func(string) error) *StreamBuffer {
	if config.MinChunkBytes == 0 {
		config.MinChunkBytes = 80
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 1500 * time.Millisecond
	}
	b := &StreamBuffer{
		config: config,
		emit:   emit,
		now:    time.Now,
	}
	b.lastFlush = b.now()
	return b
}

// Write appends a fragment and emits whatever the flush rules allow. Errors
// from the emit callback propagate so the caller can abort the stream.
func (b *StreamBuffer) Write(fragment string) error {
	b.buf.WriteString(fragment)
	data := b.buf.String()

	if idx := lastSentenceEnd(data); idx >= b.config.MinChunkBytes {
		return b.flush(idx)
	}

	if len(data) >= b.config.MinChunkBytes {
		if idx := lastWordBoundary(data); idx > 0 {
			return b.flush(idx)
		}
	}

	if len(data) > 0 && b.now().Sub(b.lastFlush) >= b.config.FlushInterval {
		return b.flush(len(data))
	}

	return nil
}

// Flush force-emits everything still buffered. Called once at stream end so
// no text is ever lost.
func (b *StreamBuffer) Flush() error {
	if b.buf.Len() == 0 {
		return nil
	}
	return b.flush(b.buf.Len())
}

func (b *StreamBuffer) flush(n int) error {
	data := b.buf.String()
	out, rest := data[:n], data[n:]

	b.buf.Reset()
	b.buf.WriteString(rest)
	b.lastFlush = b.now()

	return b.emit(out)
}

// lastSentenceEnd returns the index just past the last sentence terminator
// (and its trailing separator), or -1.
func lastSentenceEnd(data string) int {
	for i := len(data) - 1; i >= 0; i-- {
		c := data[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i == len(data)-1 {
			return len(data)
		}
		switch data[i+1] {
		case ' ', '\n', '\t':
			return i + 2
		}
	}
	return -1
}

// lastWordBoundary returns the index just past the last whitespace, or -1.
func lastWordBoundary(data string) int {
	idx := strings.LastIndexAny(data, " \n\t")
	if idx < 0 {
		return -1
	}
	return idx + 1
}
