// Package buffer provides memory-efficient response body storage with disk
// spilling, backing the fetch_buf convenience wrapper.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/go-waitress/waitress/pkg/waitresserr"
)

const (
	// DefaultMemoryLimit is the default memory threshold before spilling to disk.
	DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB
)

// Buffer stores data either in memory or spooled to a temporary file when
// exceeding a threshold.
type Buffer struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	mu     sync.Mutex
	closed bool
}

// New creates a new Buffer with the provided memory limit.
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// Write stores the provided bytes, spilling to disk once above the configured
// memory threshold. It implements io.Writer; FetchBuf's sink wraps it.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, waitresserr.New(waitresserr.ERR, "write", nil).WithMessage("buffer is closed")
	}

	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "waitress-buffer-*.tmp")
		if err != nil {
			return 0, waitresserr.New(waitresserr.ERR, "write", err).WithMessage("creating temp file")
		}

		b.file = tmp
		b.path = tmp.Name()

		if b.buf.Len() > 0 {
			if _, err := tmp.Write(b.buf.Bytes()); err != nil {
				b.unlockedClose()
				return 0, waitresserr.New(waitresserr.ERR, "write", err).WithMessage("writing to temp file")
			}
		}

		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, waitresserr.New(waitresserr.ERR, "write", err).WithMessage("writing to temp file")
	}
	return n, nil
}

// Bytes returns the in-memory data. If the payload spilled to disk this is
// empty; use Reader instead.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Size returns the total number of bytes written.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the buffer has spilled to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader provides a fresh reader for the stored data.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, waitresserr.New(waitresserr.ERR, "read", nil).WithMessage("buffer is closed")
	}

	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, waitresserr.New(waitresserr.ERR, "read", err).WithMessage("syncing temp file")
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, waitresserr.New(waitresserr.ERR, "read", err).WithMessage("opening temp file")
		}
		return f, nil
	}

	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// Close flushes and removes any spilled temp file. Safe for concurrent
// calls and idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unlockedClose()
}

func (b *Buffer) unlockedClose() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.file != nil {
		err := b.file.Close()
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = removeErr
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return waitresserr.New(waitresserr.ERR, "close", err).WithMessage("closing temp file")
		}
	}
	return nil
}
