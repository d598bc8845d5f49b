package digest

import "testing"

func TestHasherResetIsIdempotent(t *testing.T) {
	h := New()
	h.Write([]byte("hello world"))
	first := h.Sum128()

	h.Reset()
	h.Write([]byte("hello world"))
	second := h.Sum128()

	if first != second {
		t.Fatalf("digest changed after reset+rewrite: %x != %x", first, second)
	}
}

func TestSum128BytesMatchesStreaming(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	oneShot := Sum128Bytes(data)

	h := New()
	h.Write(data[:10])
	h.Write(data[10:])
	streamed := h.Sum128()

	if oneShot != streamed {
		t.Fatalf("one-shot digest %x != streamed digest %x", oneShot, streamed)
	}
}

func TestCountingSinkCounts(t *testing.T) {
	sink := NewCountingSink()
	n, err := sink.Write([]byte("12345"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}
	if sink.Count() != 5 {
		t.Fatalf("expected count 5, got %d", sink.Count())
	}
}

func TestEmptyDigestIsStable(t *testing.T) {
	a := Sum128Bytes(nil)
	b := Sum128Bytes([]byte{})
	if a != b {
		t.Fatalf("empty-input digests differ: %x != %x", a, b)
	}
}
