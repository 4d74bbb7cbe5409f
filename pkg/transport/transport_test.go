package transport

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-waitress/waitress/pkg/waitresserr"
)

func selfSignedCert(t *testing.T) (tls.Certificate, [20]byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return cert, sha1.Sum(der)
}

func TestUpgradeTLSFingerprintMatch(t *testing.T) {
	cert, fp := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.(*tls.Conn).Handshake()
			c.Close()
		}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	tlsConn, err := UpgradeTLS(raw, "127.0.0.1", fp, 2*time.Second)
	if err != nil {
		t.Fatalf("expected successful handshake with matching fingerprint, got %v", err)
	}
	tlsConn.Close()
}

func TestUpgradeTLSFingerprintMismatch(t *testing.T) {
	cert, _ := selfSignedCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.(*tls.Conn).Handshake()
			c.Close()
		}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	var wrongFP [20]byte
	_, err = UpgradeTLS(raw, "127.0.0.1", wrongFP, 2*time.Second)
	if err == nil {
		t.Fatal("expected fingerprint mismatch error")
	}
	if got := waitresserr.OutcomeOf(err); got != waitresserr.TLSFingerprintMismatch {
		t.Fatalf("expected TLS_FINGERPRINT_MISMATCH, got %v (%v)", got, err)
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close() // nothing listening now

	_, err = Dial(context.Background(), "127.0.0.1", fmt.Sprintf("%d", addr.Port), 2*time.Second)
	if err == nil {
		t.Fatal("expected a connection error against a closed port")
	}
}

func TestTunnelSuccess(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		fmt.Fprintf(c, "HTTP/1.1 200 Connection Established\r\n\r\n")
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	proxy := ProxyConfig{Type: "http", Host: "proxy", Port: "8080"}
	if err := Tunnel(conn, proxy, "origin.example", "443", 2*time.Second); err != nil {
		t.Fatalf("expected tunnel success, got %v", err)
	}
}

func TestTunnelRetryOn407(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		r := bufio.NewReader(c)
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		fmt.Fprintf(c, "HTTP/1.1 407 Proxy Authentication Required\r\n\r\n")
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	proxy := ProxyConfig{Type: "http", Host: "proxy", Port: "8080"}
	err = Tunnel(conn, proxy, "origin.example", "443", 2*time.Second)
	if err == nil {
		t.Fatal("expected a RETRY error from a 407 tunnel response")
	}
	if got := waitresserr.OutcomeOf(err); got != waitresserr.Retry {
		t.Fatalf("expected RETRY, got %v (%v)", got, err)
	}
}
