// Package waitress is a small, embeddable HTTP/1.1 client with optional
// TLS, pinned-certificate verification, HTTP CONNECT/SOCKS proxy tunneling,
// chunked transfer decoding, and strict per-operation timeouts.
package waitress

import (
	"context"
	"io"
	"time"

	"github.com/go-waitress/waitress/pkg/buffer"
	"github.com/go-waitress/waitress/pkg/client"
	"github.com/go-waitress/waitress/pkg/endpoint"
	"github.com/go-waitress/waitress/pkg/timing"
	"github.com/go-waitress/waitress/pkg/waitresserr"
)

// DefaultTimeout is applied by Init, matching spec section 6's 30 000 ms default.
const DefaultTimeout = 30 * time.Second

// Method is the HTTP request method; only GET and POST are supported.
type Method = client.Method

const (
	MethodGET  = client.MethodGET
	MethodPOST = client.MethodPOST
)

// Outcome is the closed result enumeration every call returns.
type Outcome = waitresserr.Outcome

// Re-export the outcome constants so callers never import pkg/waitresserr directly.
const (
	OK                     = waitresserr.OK
	ERR                    = waitresserr.ERR
	StatusUnknown          = waitresserr.StatusUnknown
	NotFound               = waitresserr.NotFound
	Forbidden              = waitresserr.Forbidden
	BadRequest             = waitresserr.BadRequest
	ConnectRefused         = waitresserr.ConnectRefused
	Retry                  = waitresserr.Retry
	SockErr                = waitresserr.SockErr
	GetAddrErr             = waitresserr.GetAddrErr
	CBAbort                = waitresserr.CBAbort
	PartialFile            = waitresserr.PartialFile
	Timeout                = waitresserr.Timeout
	ReadErr                = waitresserr.ReadErr
	ConnectionClosed       = waitresserr.ConnectionClosed
	DecodingErr            = waitresserr.DecodingErr
	TLSWriteErr            = waitresserr.TLSWriteErr
	TLSReadErr             = waitresserr.TLSReadErr
	TLSHandshakeErr        = waitresserr.TLSHandshakeErr
	TLSFingerprintMismatch = waitresserr.TLSFingerprintMismatch
)

// Sink receives body bytes as the response is decoded. Returning false
// aborts the in-flight call, surfacing as CBAbort.
type Sink func(p []byte) bool

// Metrics is the per-call timing breakdown (DNS/TCP/TLS/TTFB/Total). DNS
// resolution happens inside the dial and is counted in TCPConnect, so
// DNSLookup stays zero for calls made through a Handle.
type Metrics = timing.Metrics

// Handle is the per-client configuration described in spec section 3: a
// target endpoint, an optional proxy, the request shape, and a sink. It is
// zero-initialized by Init, mutated by the setters and direct field
// assignment, and may be reused across many calls — but not concurrently.
type Handle struct {
	target *endpoint.Endpoint
	proxy  *endpoint.Endpoint

	// ProxyType selects the upstream proxy protocol: "" or "http" for an
	// HTTP CONNECT tunnel, "socks4", or "socks5". Ignored when Proxy is unset.
	ProxyType string

	Method         Method
	PostData       []byte
	ExtraHeaders   []byte
	Timeout        time.Duration
	TLSFingerprint [20]byte

	Sink Sink

	lastMetrics Metrics
}

// Init zero-initializes handle and sets the default timeout, per spec
// section 6's init(handle).
func Init(h *Handle) {
	*h = Handle{Timeout: DefaultTimeout, Method: MethodGET}
}

// Free releases the owned target/proxy endpoints and zeroes the handle.
func Free(h *Handle) {
	*h = Handle{}
}

// SetURL parses url and installs it as the target endpoint. It returns
// false, leaving the handle unchanged, if url doesn't start with
// "http://" or "https://".
func (h *Handle) SetURL(url string) bool {
	ep, ok := endpoint.Split(url)
	if !ok {
		return false
	}
	h.target = ep
	return true
}

// SetProxy parses url and installs it as the upstream proxy endpoint. It
// returns false, leaving the handle unchanged, if url doesn't start with
// "http://" or "https://".
func (h *Handle) SetProxy(url string) bool {
	ep, ok := endpoint.Split(url)
	if !ok {
		return false
	}
	h.proxy = ep
	return true
}

// LastMetrics returns the timing breakdown of the most recently completed
// call, zero-valued before the first call.
func (h *Handle) LastMetrics() Metrics {
	return h.lastMetrics
}

// FetchCall performs one request using the currently installed Sink,
// making at most 3 attempts in total while the outcome is RETRY, per spec
// sections 4.6/4.7.
func (h *Handle) FetchCall(ctx context.Context) Outcome {
	if h.target == nil {
		return ERR
	}
	if h.Sink == nil {
		return ERR
	}

	req := &client.Request{
		Target:       h.target,
		Proxy:        h.proxy,
		ProxyType:    h.ProxyType,
		Method:       h.Method,
		PostData:     h.PostData,
		ExtraHeaders: h.ExtraHeaders,
		Timeout:      h.Timeout,
		Fingerprint:  h.TLSFingerprint,
		Sink:         client.Sink(h.Sink),
	}

	res := client.Run(ctx, req)
	h.lastMetrics = res.Timings
	return res.Outcome
}

// FetchBuf is a convenience wrapper around FetchCall that installs an
// appending sink and returns the accumulated response body, per spec
// section 6's fetch_buf.
func (h *Handle) FetchBuf(ctx context.Context) (Outcome, []byte) {
	buf := buffer.New(buffer.DefaultMemoryLimit)
	defer buf.Close()

	prevSink := h.Sink
	h.Sink = func(p []byte) bool {
		_, err := buf.Write(p)
		return err == nil
	}
	defer func() { h.Sink = prevSink }()

	outcome := h.FetchCall(ctx)
	if buf.IsSpilled() {
		r, err := buf.Reader()
		if err != nil {
			return ERR, nil
		}
		defer r.Close()
		data := make([]byte, buf.Size())
		if _, err := io.ReadFull(r, data); err != nil {
			return ERR, nil
		}
		return outcome, data
	}
	return outcome, buf.Bytes()
}
