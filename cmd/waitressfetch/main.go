// Command waitressfetch issues one HTTP/1.1 request through the waitress
// client library, prints the outcome and timing metrics to stderr, and
// writes the response body to stdout.
package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-waitress/waitress"
)

func main() {
	url := flag.String("url", "", "target URL (http:// or https://)")
	proxyURL := flag.String("proxy", "", "optional proxy URL")
	proxyType := flag.String("proxy-type", "", "proxy protocol: http, socks4, or socks5")
	method := flag.String("method", "GET", "request method: GET or POST")
	postData := flag.String("data", "", "POST body")
	timeout := flag.Duration("timeout", waitress.DefaultTimeout, "per-call timeout")
	fingerprint := flag.String("fingerprint", "", "expected TLS certificate SHA-1 fingerprint, hex-encoded (40 chars)")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "usage: waitressfetch -url http(s)://host[:port]/path")
		os.Exit(2)
	}

	var h waitress.Handle
	waitress.Init(&h)

	if !h.SetURL(*url) {
		fmt.Fprintf(os.Stderr, "invalid URL: %s\n", *url)
		os.Exit(2)
	}

	if *proxyURL != "" {
		if !h.SetProxy(*proxyURL) {
			fmt.Fprintf(os.Stderr, "invalid proxy URL: %s\n", *proxyURL)
			os.Exit(2)
		}
		h.ProxyType = *proxyType
	}

	switch *method {
	case "GET":
		h.Method = waitress.MethodGET
	case "POST":
		h.Method = waitress.MethodPOST
		h.PostData = []byte(*postData)
	default:
		fmt.Fprintf(os.Stderr, "unsupported method: %s\n", *method)
		os.Exit(2)
	}

	h.Timeout = *timeout

	if *fingerprint != "" {
		raw, err := hex.DecodeString(*fingerprint)
		if err != nil || len(raw) != sha1.Size {
			fmt.Fprintln(os.Stderr, "fingerprint must be 40 hex characters (SHA-1)")
			os.Exit(2)
		}
		copy(h.TLSFingerprint[:], raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+time.Second)
	defer cancel()

	outcome, body := h.FetchBuf(ctx)
	fmt.Fprintf(os.Stderr, "outcome: %s (%s)\n", outcome, h.LastMetrics())

	if outcome != waitress.OK && outcome != waitress.PartialFile {
		os.Exit(1)
	}
	os.Stdout.Write(body)
}
