// Package client implements the request engine: connect, optional CONNECT
// tunnel, optional TLS handshake and fingerprint check, request framing,
// header parsing, and body delivery through a decoder, wrapped in a bounded
// retry loop.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/go-waitress/waitress/pkg/decode"
	"github.com/go-waitress/waitress/pkg/encoding"
	"github.com/go-waitress/waitress/pkg/endpoint"
	"github.com/go-waitress/waitress/pkg/timing"
	"github.com/go-waitress/waitress/pkg/transport"
	"github.com/go-waitress/waitress/pkg/waitresserr"
)

const (
	ioBufferSize = 16 * 1024
	retryBudget  = 3
	userAgent    = "waitress"
)

// Method is the HTTP request method; only GET and POST are supported.
type Method string

const (
	MethodGET  Method = "GET"
	MethodPOST Method = "POST"
)

// Sink receives body bytes as they're decoded. Returning false aborts the call.
type Sink func(p []byte) bool

// Request carries everything one FetchCall needs: the per-Handle
// configuration plus the installed sink.
type Request struct {
	Target         *endpoint.Endpoint
	Proxy          *endpoint.Endpoint
	ProxyType      string // "", "http", "socks4", "socks5" ("" and "http" are equivalent)
	Method         Method
	PostData       []byte
	ExtraHeaders   []byte
	Timeout        time.Duration
	Fingerprint    [20]byte
	Sink           Sink
}

// Result carries the outcome and ambient timing metadata of one FetchCall.
type Result struct {
	Outcome waitresserr.Outcome
	Timings timing.Metrics
	Err     error
}

// state is the per-attempt scratch the engine owns exclusively for one
// connect/send/receive pass; it is rebuilt on every retry.
type state struct {
	conn           net.Conn
	contentLength  int64
	contentKnown   bool
	bytesDelivered int64
	decoder        decode.Decoder
}

func (s *state) setReadDeadline(d time.Time) {
	s.conn.SetReadDeadline(d)
}

// isHTTPProxy reports whether the proxy needs an explicit CONNECT tunnel
// (as opposed to SOCKS4/5, whose handshake already delivers a pipe to the
// target).
func isHTTPProxy(proxyType string) bool {
	return proxyType == "" || proxyType == "http"
}

// Run executes the bounded retry loop around one attempt, per spec section
// 4.6/4.7: at most retryBudget attempts, continuing only while an attempt
// returned the RETRY outcome.
func Run(ctx context.Context, req *Request) *Result {
	timer := timing.NewTimer()
	var last *Result

	for attempt := 0; attempt < retryBudget; attempt++ {
		last = runAttempt(ctx, req, timer)
		if last.Outcome != waitresserr.Retry {
			break
		}
	}

	last.Timings = timer.GetMetrics()
	return last
}

func runAttempt(ctx context.Context, req *Request, timer *timing.Timer) *Result {
	st := &state{}

	conn, outcome, err := connect(ctx, req, timer)
	if err != nil {
		return &Result{Outcome: outcome, Err: err}
	}
	st.conn = conn
	defer st.conn.Close()

	st.decoder = decode.NewIdentity(func(p []byte) bool {
		st.bytesDelivered += int64(len(p))
		return req.Sink(p)
	})

	if err := sendRequest(st.conn, req); err != nil {
		return &Result{Outcome: waitresserr.OutcomeOf(err), Err: err}
	}

	timer.StartTTFB()
	reader := bufio.NewReaderSize(st.conn, ioBufferSize)
	outcome, err = receiveHeaders(reader, st, req)
	timer.EndTTFB()
	if err != nil {
		return &Result{Outcome: outcome, Err: err}
	}

	if err := receiveBody(reader, st, req); err != nil {
		return &Result{Outcome: waitresserr.OutcomeOf(err), Err: err}
	}

	if st.contentKnown && st.bytesDelivered < st.contentLength {
		return &Result{Outcome: waitresserr.PartialFile,
			Err: waitresserr.New(waitresserr.PartialFile, "receive-body", nil)}
	}

	return &Result{Outcome: waitresserr.OK}
}

// connect performs DNS+TCP dial, the optional CONNECT tunnel, and the
// optional TLS handshake + fingerprint check, per spec section 4.6 step 1.
func connect(ctx context.Context, req *Request, timer *timing.Timer) (net.Conn, waitresserr.Outcome, error) {
	timer.StartTCP()

	var conn net.Conn
	var err error

	if req.Proxy != nil {
		proxyCfg := transport.ProxyConfig{
			Type:     req.ProxyType,
			Host:     req.Proxy.EffectiveHost(),
			Port:     req.Proxy.EffectivePort(),
			User:     deref(req.Proxy.User),
			Password: deref(req.Proxy.Password),
		}
		conn, err = transport.DialProxy(ctx, proxyCfg, req.Target.EffectiveHost(), req.Target.EffectivePort(), req.Timeout)
	} else {
		conn, err = transport.Dial(ctx, req.Target.EffectiveHost(), req.Target.EffectivePort(), req.Timeout)
	}
	timer.EndTCP()
	if err != nil {
		return nil, waitresserr.OutcomeOf(err), err
	}

	if req.Target.TLS && req.Proxy != nil && isHTTPProxy(req.ProxyType) {
		proxyCfg := transport.ProxyConfig{
			Type:     "http",
			Host:     req.Proxy.EffectiveHost(),
			Port:     req.Proxy.EffectivePort(),
			User:     deref(req.Proxy.User),
			Password: deref(req.Proxy.Password),
		}
		if err := transport.Tunnel(conn, proxyCfg, req.Target.EffectiveHost(), req.Target.EffectivePort(), req.Timeout); err != nil {
			conn.Close()
			return nil, waitresserr.OutcomeOf(err), err
		}
	}

	if req.Target.TLS {
		timer.StartTLS()
		tlsConn, err := transport.UpgradeTLS(conn, req.Target.EffectiveHost(), req.Fingerprint, req.Timeout)
		timer.EndTLS()
		if err != nil {
			conn.Close()
			return nil, waitresserr.OutcomeOf(err), err
		}
		return tlsConn, waitresserr.OK, nil
	}

	return conn, waitresserr.OK, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// sendRequest writes the request line, headers, and optional POST body in
// the exact wire order spec section 4.6 steps 2-3 require.
func sendRequest(conn net.Conn, req *Request) error {
	deadline := time.Now().Add(req.Timeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return waitresserr.New(waitresserr.ERR, "send-request", err)
	}
	defer conn.SetWriteDeadline(time.Time{})

	var b strings.Builder

	path := req.Target.EffectivePath()

	if req.Proxy != nil && !req.Target.TLS {
		fmt.Fprintf(&b, "%s http://%s:%s/%s HTTP/1.1\r\n",
			req.Method, req.Target.EffectiveHost(), req.Target.EffectivePort(), path)
	} else {
		fmt.Fprintf(&b, "%s /%s HTTP/1.1\r\n", req.Method, path)
	}

	fmt.Fprintf(&b, "Host: %s\r\nUser-Agent: %s\r\nConnection: Close\r\n", req.Target.EffectiveHost(), userAgent)

	if req.Method == MethodPOST && len(req.PostData) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.PostData))
	}

	if req.Target.User != nil {
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", encoding.BasicAuth(*req.Target.User, deref(req.Target.Password)))
	}

	if req.Proxy != nil && !req.Target.TLS && req.Proxy.User != nil {
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", encoding.BasicAuth(*req.Proxy.User, deref(req.Proxy.Password)))
	}

	if len(req.ExtraHeaders) > 0 {
		b.Write(req.ExtraHeaders)
	}

	b.WriteString("\r\n")

	if req.Method == MethodPOST && len(req.PostData) > 0 {
		b.Write(req.PostData)
	}

	if _, err := io.WriteString(conn, b.String()); err != nil {
		return waitresserr.New(waitresserr.TLSWriteErr, "send-request", err)
	}
	return nil
}

// receiveHeaders reads the status line and header block, mapping
// Content-Length and Transfer-Encoding into the request state and applying
// the status matrix from spec section 4.6 step 4. Lines that fail to parse
// as a status line before the first valid one are skipped rather than
// rejected, matching the original's "ignore invalid line" behavior.
func receiveHeaders(r *bufio.Reader, st *state, req *Request) (waitresserr.Outcome, error) {
	tp := textproto.NewReader(r)

	var status int
	for {
		st.setReadDeadline(time.Now().Add(req.Timeout))
		line, err := tp.ReadLine()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return waitresserr.Timeout, waitresserr.New(waitresserr.Timeout, "receive-headers", err)
			}
			return waitresserr.ConnectionClosed, waitresserr.New(waitresserr.ConnectionClosed, "receive-headers", err)
		}
		var httpVer string
		var parsed int
		if n, _ := fmt.Sscanf(line, "HTTP/%s %3d", &httpVer, &parsed); n == 2 {
			status = parsed
			break
		}
	}

	switch status {
	case 200, 206:
		// continue
	case 400:
		return waitresserr.BadRequest, waitresserr.New(waitresserr.BadRequest, "receive-headers", nil)
	case 403:
		return waitresserr.Forbidden, waitresserr.New(waitresserr.Forbidden, "receive-headers", nil)
	case 404:
		return waitresserr.NotFound, waitresserr.New(waitresserr.NotFound, "receive-headers", nil)
	case 407:
		if req.Proxy != nil {
			return waitresserr.Retry, waitresserr.New(waitresserr.Retry, "receive-headers", nil)
		}
		return waitresserr.StatusUnknown, waitresserr.New(waitresserr.StatusUnknown, "receive-headers", nil)
	default:
		return waitresserr.StatusUnknown, waitresserr.New(waitresserr.StatusUnknown, "receive-headers", nil).
			WithMessage(fmt.Sprintf("unexpected status %d", status))
	}

	st.setReadDeadline(time.Now().Add(req.Timeout))
	headers, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return waitresserr.Timeout, waitresserr.New(waitresserr.Timeout, "receive-headers", err)
		}
		return waitresserr.ConnectionClosed, waitresserr.New(waitresserr.ConnectionClosed, "receive-headers", err)
	}

	if cl := headers.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			st.contentLength = n
			st.contentKnown = true
		}
	}
	if strings.EqualFold(headers.Get("Transfer-Encoding"), "chunked") {
		st.decoder = decode.NewChunked(func(p []byte) bool {
			st.bytesDelivered += int64(len(p))
			return req.Sink(p)
		})
	}

	return waitresserr.OK, nil
}

// receiveBody reads buffer slices and feeds them to the installed decoder
// until it signals completion, abort, or error, or the socket reaches EOF,
// per spec section 4.6 step 5.
func receiveBody(r *bufio.Reader, st *state, req *Request) error {
	buf := make([]byte, ioBufferSize)

	for {
		st.setReadDeadline(time.Now().Add(req.Timeout))

		n, readErr := r.Read(buf)
		if n > 0 {
			sig, decErr := st.decoder.Feed(buf[:n])
			switch sig {
			case decode.Done:
				return nil
			case decode.Err:
				return waitresserr.New(waitresserr.DecodingErr, "receive-body", decErr)
			case decode.Aborted:
				return waitresserr.New(waitresserr.CBAbort, "receive-body", nil)
			case decode.Continue:
				if st.contentKnown && st.bytesDelivered >= st.contentLength {
					return nil
				}
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				// connection closed mid-body: fall through with whatever
				// was delivered, per spec section 4.6 step 5.
				return nil
			}
			if ne, ok := readErr.(net.Error); ok && ne.Timeout() {
				return waitresserr.New(waitresserr.Timeout, "receive-body", readErr)
			}
			return waitresserr.New(waitresserr.ReadErr, "receive-body", readErr)
		}
	}
}
