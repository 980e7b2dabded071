// pkg/bitvec/bitvec_test.go
package bitvec

import "testing"

func mustNew(t *testing.T, length int) *BitVector {
	t.Helper()
	v, err := New(length)
	if err != nil {
		t.Fatalf("New(%d): %v", length, err)
	}
	return v
}

func TestNewRejectsNonMultipleOf64(t *testing.T) {
	if _, err := New(63); err == nil {
		t.Fatal("expected error for length not a multiple of 64")
	}
}

func TestNewFromBytesDecodesFirstBlock(t *testing.T) {
	data := []byte{0x01, 0, 0, 0, 0, 0, 0, 0}
	v, err := NewFromBytes(data, 64)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	if !v.Bit(0) {
		t.Error("expected bit 0 set")
	}
	for i := 1; i < 64; i++ {
		if v.Bit(i) {
			t.Errorf("expected bit %d clear", i)
		}
	}
}

func TestNewFromBytesShortPayload(t *testing.T) {
	if _, err := NewFromBytes([]byte{1, 2, 3}, 64); err == nil {
		t.Fatal("expected error for short payload")
	}
}

func TestSetBitAndClone(t *testing.T) {
	v := mustNew(t, 128)
	v.Set(0)
	v.Set(127)
	clone := v.Clone()
	if !clone.Bit(0) || !clone.Bit(127) {
		t.Fatal("clone lost set bits")
	}
	clone.Clear(0)
	if !v.Bit(0) {
		t.Fatal("clone mutation leaked back into original")
	}
}

func TestHammingIdentityAndSymmetry(t *testing.T) {
	a := mustNew(t, 256)
	b := mustNew(t, 256)
	for _, i := range []int{1, 5, 64, 130, 255} {
		a.Set(i)
	}
	for _, i := range []int{1, 6, 64, 200} {
		b.Set(i)
	}

	if d := Hamming(a, a); d != 0 {
		t.Errorf("Hamming(a,a) = %d, want 0", d)
	}
	if Hamming(a, b) != Hamming(b, a) {
		t.Errorf("Hamming not symmetric: %d vs %d", Hamming(a, b), Hamming(b, a))
	}
	if d := Hamming(a, b); d > a.Len() {
		t.Errorf("Hamming(a,b) = %d exceeds length %d", d, a.Len())
	}
}

func TestHammingMatchesNaiveAcrossLengths(t *testing.T) {
	for _, length := range []int{64, 128, 192, 256, 576, 4096} {
		a := mustNew(t, length)
		b := mustNew(t, length)
		for i := 0; i < length; i += 3 {
			a.Set(i)
		}
		for i := 0; i < length; i += 5 {
			b.Set(i)
		}
		if got, want := Hamming(a, b), hammingNaive(a, b); got != want {
			t.Errorf("length %d: unrolled Hamming = %d, naive = %d", length, got, want)
		}
	}
}

func TestHammingPanicsOnLengthMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on length mismatch")
		}
	}()
	Hamming(mustNew(t, 64), mustNew(t, 128))
}

func TestDistanceSquared(t *testing.T) {
	a := mustNew(t, 64)
	b := mustNew(t, 64)
	b.Set(0)
	b.Set(1)
	b.Set(2)
	if got, want := DistanceSquared(a, b), 9.0; got != want {
		t.Errorf("DistanceSquared = %v, want %v", got, want)
	}
}
