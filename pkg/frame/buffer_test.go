package frame

import "testing"

func TestBufferAppendAndPeek(t *testing.T) {
	buf := New()

	buf.Append([]byte("hello"))
	if buf.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", buf.Len())
	}

	got, ok := buf.Peek(5)
	if !ok {
		t.Fatal("Peek(5) = false, want true")
	}
	if string(got) != "hello" {
		t.Fatalf("Peek(5) = %q, want %q", got, "hello")
	}

	if _, ok := buf.Peek(6); ok {
		t.Fatal("Peek(6) = true, want false (insufficient data)")
	}
}

func TestBufferConsume(t *testing.T) {
	buf := New()
	buf.Append([]byte("hello world"))

	buf.Consume(6)
	if buf.Len() != 5 {
		t.Fatalf("Len() after Consume(6) = %d, want 5", buf.Len())
	}

	got, _ := buf.Peek(5)
	if string(got) != "world" {
		t.Fatalf("Peek(5) after consume = %q, want %q", got, "world")
	}
}

func TestBufferConsumePastEndPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Consume past Len() did not panic")
		}
	}()

	buf := New()
	buf.Append([]byte("ab"))
	buf.Consume(3)
}

func TestBufferFind(t *testing.T) {
	buf := New()
	buf.Append([]byte("GET / HTTP/1.1\r\n\r\nbody"))

	idx := buf.Find([]byte("\r\n\r\n"))
	if idx != 14 {
		t.Fatalf("Find(CRLFCRLF) = %d, want 14", idx)
	}

	if idx := buf.Find([]byte("NOTPRESENT")); idx != -1 {
		t.Fatalf("Find(missing) = %d, want -1", idx)
	}
}

func TestBufferSplitAt(t *testing.T) {
	buf := New()
	buf.Append([]byte("headbody"))

	head, tail := buf.SplitAt(4)
	if string(head) != "head" {
		t.Fatalf("head = %q, want %q", head, "head")
	}
	if string(tail) != "body" {
		t.Fatalf("tail = %q, want %q", tail, "body")
	}
	if buf.Len() != 8 {
		t.Fatalf("SplitAt must not consume; Len() = %d, want 8", buf.Len())
	}
}

func TestBufferDrain(t *testing.T) {
	buf := New()
	buf.Append([]byte("payload"))

	out := buf.Drain()
	if string(out) != "payload" {
		t.Fatalf("Drain() = %q, want %q", out, "payload")
	}
	if buf.Len() != 0 {
		t.Fatalf("Len() after Drain() = %d, want 0", buf.Len())
	}

	if out := buf.Drain(); out != nil {
		t.Fatalf("Drain() on empty buffer = %v, want nil", out)
	}
}

// TestBufferChunkBoundaryInvariance feeds the same payload split at every
// possible byte boundary and asserts Find/Peek/Consume reach the same
// result regardless of how the bytes arrived, the property the inbound
// handlers depend on when a handshake spans multiple TCP reads.
func TestBufferChunkBoundaryInvariance(t *testing.T) {
	payload := []byte("CONNECT example.com:443 HTTP/1.1\r\n\r\n")
	delim := []byte("\r\n\r\n")
	wantIdx := len(payload) - len(delim)

	for split := 0; split <= len(payload); split++ {
		buf := New()
		buf.Append(payload[:split])
		buf.Append(payload[split:])

		if idx := buf.Find(delim); idx != wantIdx {
			t.Fatalf("split=%d: Find() = %d, want %d", split, idx, wantIdx)
		}

		head, ok := buf.Peek(len(payload))
		if !ok {
			t.Fatalf("split=%d: Peek(full) = false, want true", split)
		}
		if string(head) != string(payload) {
			t.Fatalf("split=%d: Peek(full) = %q, want %q", split, head, payload)
		}
	}
}

func TestBufferCompactionPreservesData(t *testing.T) {
	buf := New()
	// Force the off > 4096 compaction path.
	buf.Append(make([]byte, 5000))
	buf.Append([]byte("tail"))
	buf.Consume(5000)

	got, ok := buf.Peek(4)
	if !ok || string(got) != "tail" {
		t.Fatalf("Peek(4) after compaction = %q, %v, want %q, true", got, ok, "tail")
	}
}
