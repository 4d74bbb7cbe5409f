// Package decode implements the two body transfer-encodings this client
// understands: identity and chunked. Both are streaming state machines fed
// arbitrary-sized buffer slices and deliver payload bytes to a Sink.
package decode

import "github.com/go-waitress/waitress/pkg/waitresserr"

// Signal is the result of feeding one buffer slice to a Decoder.
type Signal int

const (
	Continue Signal = iota
	Done
	Aborted
	Err
)

// Sink receives decoded payload bytes. It returns false to request the
// engine abort the transfer.
type Sink func(p []byte) (ok bool)

// Decoder consumes transport bytes and delivers payload bytes to its sink.
type Decoder interface {
	// Feed processes p and reports Continue, Done, or Aborted. On a protocol
	// violation (chunked only) it reports Err together with a non-nil error.
	Feed(p []byte) (Signal, error)
	// Delivered is the running count of payload bytes handed to the sink.
	Delivered() int64
}

// Identity delivers every fed byte straight to the sink. The engine, not
// the decoder, knows when the body ends (content length reached, or EOF).
type Identity struct {
	sink      Sink
	delivered int64
}

func NewIdentity(sink Sink) *Identity {
	return &Identity{sink: sink}
}

func (d *Identity) Delivered() int64 { return d.delivered }

func (d *Identity) Feed(p []byte) (Signal, error) {
	d.delivered += int64(len(p))
	if !d.sink(p) {
		return Aborted, nil
	}
	return Continue, nil
}

type chunkedState int

const (
	chunkSizeState chunkedState = iota
	chunkDataState
)

// Chunked decodes HTTP/1.1 chunked transfer-encoding: a sequence of
// (hex size line)(payload)(CRLF) groups terminated by a zero-size chunk.
// Trailers after the terminating chunk are not consumed or exposed.
type Chunked struct {
	sink      Sink
	delivered int64

	state     chunkedState
	chunkSize uint64
}

func NewChunked(sink Sink) *Chunked {
	return &Chunked{sink: sink, state: chunkSizeState}
}

func (d *Chunked) Delivered() int64 { return d.delivered }

func (d *Chunked) Feed(p []byte) (Signal, error) {
	pos := 0
	for pos < len(p) {
		switch d.state {
		case chunkSizeState:
			c := p[pos]
			switch {
			case c >= '0' && c <= '9':
				d.chunkSize = d.chunkSize<<4 | uint64(c-'0')
			case c >= 'a' && c <= 'f':
				d.chunkSize = d.chunkSize<<4 | uint64(c-'a'+10)
			case c == '\r':
				// ignored
			case c == '\n':
				d.state = chunkDataState
				if d.chunkSize == 0 {
					return Done, nil
				}
			default:
				return Err, waitresserr.New(waitresserr.DecodingErr, "chunked", nil).
					WithMessage("invalid chunk size byte")
			}
			pos++

		case chunkDataState:
			if d.chunkSize > 0 {
				payload := uint64(len(p) - pos)
				if payload > d.chunkSize {
					payload = d.chunkSize
				}
				d.delivered += int64(payload)
				if !d.sink(p[pos : pos+int(payload)]) {
					return Aborted, nil
				}
				pos += int(payload)
				d.chunkSize -= payload
			} else {
				// trailing CRLF after chunk data; next chunk size line
				// starts right after the '\n'.
				if p[pos] == '\n' {
					d.state = chunkSizeState
				}
				pos++
			}
		}
	}
	return Continue, nil
}
