package zipkit

import (
	"bytes"
	"io"
	"testing"
)

func TestBinaryTreeFromLengths_DecodesCanonicalCodes(t *testing.T) {
	// Lengths [1,2,2]: symbol 0 gets code 0, symbols 1 and 2 get the
	// 2-bit codes 10 and 11.
	tree, err := newBinaryTreeFromLengths([]int{1, 2, 2})
	if err != nil {
		t.Fatalf("newBinaryTreeFromLengths: %v", err)
	}
	// Bit sequence 0 | 1,0 | 1,1 packed LSB-first is 0x1A.
	bs := newBitStream(bytes.NewReader([]byte{0x1A}))
	for i, want := range []int{0, 1, 2} {
		got, err := tree.read(bs)
		if err != nil {
			t.Fatalf("read #%d: %v", i, err)
		}
		if got != want {
			t.Fatalf("read #%d = %d, want %d", i, got, want)
		}
	}
}

func TestBinaryTreeFromLengths_OversubscribedFails(t *testing.T) {
	if _, err := newBinaryTreeFromLengths([]int{1, 1, 1}); err == nil {
		t.Fatal("expected a collision error for three 1-bit codes")
	}
}

func TestBinaryTreeFromLengths_CodeTooLongFails(t *testing.T) {
	if _, err := newBinaryTreeFromLengths([]int{17}); err == nil {
		t.Fatal("expected an error for a 17-bit code length")
	}
}

func TestBinaryTree_ReadFailsAtEndOfStream(t *testing.T) {
	tree, err := newBinaryTreeFromLengths([]int{1, 2, 2})
	if err != nil {
		t.Fatalf("newBinaryTreeFromLengths: %v", err)
	}
	bs := newBitStream(bytes.NewReader(nil))
	if _, err := tree.read(bs); err != io.ErrUnexpectedEOF {
		t.Fatalf("read on empty stream = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestParseLengthsTable_ExpandsRepeats(t *testing.T) {
	// n=3; one symbol of length 1, then length 2 repeated twice.
	got, err := parseLengthsTable(bytes.NewReader([]byte{0x02, 0x00, 0x11}))
	if err != nil {
		t.Fatalf("parseLengthsTable: %v", err)
	}
	want := []int{1, 2, 2}
	if len(got) != len(want) {
		t.Fatalf("lengths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("lengths = %v, want %v", got, want)
		}
	}
}

func TestParseLengthsTable_TruncatedFails(t *testing.T) {
	_, err := parseLengthsTable(bytes.NewReader([]byte{0x05, 0x00}))
	if err == nil {
		t.Fatal("expected an error for a table that ends before n entries are filled")
	}
}
