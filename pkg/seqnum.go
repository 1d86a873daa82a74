package protocol

// Sequence numbers are byte offsets compared mod 2^32. The signed-difference
// cast orders values correctly across wraparound as long as the in-flight
// span stays below 2^31 bytes.

func seqLT(a, b uint32) bool {
	return int32(a-b) < 0
}

func seqLEQ(a, b uint32) bool {
	return int32(a-b) <= 0
}
