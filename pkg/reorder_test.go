package protocol

import (
	"bytes"
	"testing"
)

func TestReorderInsertAndPop(t *testing.T) {
	rb := NewReorderBuffer(16)
	if !rb.Insert(2360, []byte("later")) {
		t.Fatal("insert rejected")
	}
	if !rb.Insert(1180, []byte("sooner")) {
		t.Fatal("insert rejected")
	}
	if rb.Len() != 2 || rb.Bytes() != 11 {
		t.Fatalf("len=%d bytes=%d, want 2/11", rb.Len(), rb.Bytes())
	}

	if _, ok := rb.Pop(0); ok {
		t.Fatal("popped a sequence that was never buffered")
	}
	payload, ok := rb.Pop(1180)
	if !ok || !bytes.Equal(payload, []byte("sooner")) {
		t.Fatalf("Pop(1180) = %q (ok=%v)", payload, ok)
	}
	payload, ok = rb.Pop(2360)
	if !ok || !bytes.Equal(payload, []byte("later")) {
		t.Fatalf("Pop(2360) = %q (ok=%v)", payload, ok)
	}
	if rb.Len() != 0 || rb.Bytes() != 0 {
		t.Fatalf("buffer not empty after draining: len=%d bytes=%d", rb.Len(), rb.Bytes())
	}
}

func TestReorderRejectsDuplicates(t *testing.T) {
	rb := NewReorderBuffer(16)
	if !rb.Insert(1180, []byte("abc")) {
		t.Fatal("first insert rejected")
	}
	if rb.Insert(1180, []byte("xyz")) {
		t.Fatal("duplicate insert accepted")
	}
	payload, _ := rb.Pop(1180)
	if !bytes.Equal(payload, []byte("abc")) {
		t.Errorf("duplicate overwrote the original payload: %q", payload)
	}
}

func TestReorderCopiesPayload(t *testing.T) {
	rb := NewReorderBuffer(16)
	buf := []byte("abc")
	rb.Insert(1180, buf)
	buf[0] = 'z'
	payload, _ := rb.Pop(1180)
	if !bytes.Equal(payload, []byte("abc")) {
		t.Errorf("buffered payload aliases the caller's slice: %q", payload)
	}
}

func TestReorderCapacityBound(t *testing.T) {
	rb := NewReorderBuffer(2)
	rb.Insert(1180, []byte("a"))
	rb.Insert(2360, []byte("b"))
	if rb.Insert(3540, []byte("c")) {
		t.Fatal("insert accepted past the capacity bound")
	}
	// duplicates of buffered segments still report false at capacity
	if rb.Insert(1180, []byte("a")) {
		t.Fatal("duplicate accepted at capacity")
	}
	if rb.Len() != 2 {
		t.Fatalf("len = %d, want 2", rb.Len())
	}
}

func TestFirstBlockMergesContiguousRun(t *testing.T) {
	rb := NewReorderBuffer(16)
	if _, ok := rb.FirstBlock(); ok {
		t.Fatal("empty buffer advertised a block")
	}

	rb.Insert(2360, make([]byte, MSS))
	rb.Insert(3540, make([]byte, MSS))
	rb.Insert(5900, make([]byte, 100)) // gap before this one

	blk, ok := rb.FirstBlock()
	if !ok {
		t.Fatal("no block advertised")
	}
	want := SackBlock{Start: 2360, End: 2360 + 2*uint32(MSS)}
	if blk != want {
		t.Errorf("block = %+v, want %+v", blk, want)
	}

	// closing the gap extends the run
	rb.Insert(4720, make([]byte, MSS))
	blk, _ = rb.FirstBlock()
	want = SackBlock{Start: 2360, End: 6000}
	if blk != want {
		t.Errorf("block after gap fill = %+v, want %+v", blk, want)
	}
}
