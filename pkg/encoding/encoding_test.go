package encoding

import "testing"

func TestBasicAuthVector(t *testing.T) {
	if got := BasicAuth("Man", ""); got != "TWFuOg==" {
		t.Errorf("BasicAuth(Man,\"\") = %s", got)
	}
}

func TestBasicAuthRoundTripsUserPass(t *testing.T) {
	got := BasicAuth("alice", "s3cret")
	want := "YWxpY2U6czNjcmV0"
	if got != want {
		t.Errorf("BasicAuth = %s, want %s", got, want)
	}
}

func TestPercentEncodePreservesUnreserved(t *testing.T) {
	in := "AZaz09_-."
	if got := PercentEncode(in); got != in {
		t.Errorf("expected unreserved characters untouched, got %s", got)
	}
}

func TestPercentEncodeEscapesEverythingElse(t *testing.T) {
	if got := PercentEncode(" "); got != "%20" {
		t.Errorf("space: got %s", got)
	}
	if got := PercentEncode("a b=c&d"); got != "a%20b%3dc%26d" {
		t.Errorf("got %s", got)
	}
	if got := PercentEncode("~"); got != "%7e" {
		t.Errorf("tilde must be escaped (not preserved like net/url does), got %s", got)
	}
}

func TestPercentEncodeIdempotentOverEncodedOutput(t *testing.T) {
	in := "hello world!"
	once := PercentEncode(in)
	twice := PercentEncode(once)
	if once != twice {
		t.Errorf("percent-encoding an already-encoded string (restricted to unreserved + %%HH) must be a no-op: %s vs %s", once, twice)
	}
}
