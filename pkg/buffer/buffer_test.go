package buffer

import (
	"io"
	"testing"
)

func TestWriteStaysInMemoryBelowLimit(t *testing.T) {
	b := New(1024)
	defer b.Close()

	if _, err := b.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if b.IsSpilled() {
		t.Error("should not have spilled under the limit")
	}
	if string(b.Bytes()) != "hello" {
		t.Errorf("got %q", b.Bytes())
	}
	if b.Size() != 5 {
		t.Errorf("size = %d", b.Size())
	}
}

func TestWriteSpillsPastLimit(t *testing.T) {
	b := New(4)
	defer b.Close()

	if _, err := b.Write([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	if !b.IsSpilled() {
		t.Error("should have spilled past the limit")
	}
	if b.Bytes() != nil {
		t.Error("spilled buffer should not expose in-memory bytes")
	}

	r, err := b.Reader()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(1024)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	b := New(1024)
	b.Close()
	if _, err := b.Write([]byte("x")); err == nil {
		t.Error("expected write after close to fail")
	}
}
