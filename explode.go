package zipkit

import (
	"bufio"
	"errors"
	"io"
)

// ErrInvalidImplodeParams is returned when dictionary size isn't 4096 or
// 8192, or tree count isn't 2 or 3.
var ErrInvalidImplodeParams = errors.New("zipkit: invalid explode parameters")

// explodeDecoder decodes PKZIP's Implode method (6): a 4K or 8K sliding
// dictionary with 2 or 3 Shannon-Fano/Huffman trees for literals, match
// lengths, and match distances.
type explodeDecoder struct {
	bits       *bitStream
	window     *circularWindow
	litTree    *binaryTree // nil in 2-tree mode
	lenTree    *binaryTree
	distTree   *binaryTree
	lowDistBits int
	minLength   int
	threeTree   bool

	pending []byte // bytes decoded but not yet delivered to Read
	err     error
}

// newExplodeDecoder constructs a decoder reading compressed bytes from r.
// dictSize must be 4096 or 8192; treeCount must be 2 or 3.
func newExplodeDecoder(r io.Reader, dictSize, treeCount int) (*explodeDecoder, error) {
	if (dictSize != 4096 && dictSize != 8192) || (treeCount != 2 && treeCount != 3) {
		return nil, ErrInvalidImplodeParams
	}
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	bs := newBitStream(br)

	d := &explodeDecoder{
		bits:   bs,
		window: newCircularWindow(dictSize),
		threeTree: treeCount == 3,
	}
	if dictSize == 8192 {
		d.lowDistBits = 7
	} else {
		d.lowDistBits = 6
	}
	if treeCount == 3 {
		d.minLength = 2
		litLengths, err := parseLengthsTable(br)
		if err != nil {
			return nil, err
		}
		d.litTree, err = newBinaryTreeFromLengths(litLengths)
		if err != nil {
			return nil, err
		}
	} else {
		d.minLength = 3
	}

	lenLengths, err := parseLengthsTable(br)
	if err != nil {
		return nil, err
	}
	d.lenTree, err = newBinaryTreeFromLengths(lenLengths)
	if err != nil {
		return nil, err
	}

	distLengths, err := parseLengthsTable(br)
	if err != nil {
		return nil, err
	}
	d.distTree, err = newBinaryTreeFromLengths(distLengths)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// decodeOne decodes one more symbol into the window (a literal byte, or a
// back-reference that copies several bytes), or returns io.EOF if the bit stream is exhausted at a symbol boundary.
func (d *explodeDecoder) decodeOne() error {
	flag := d.bits.nextBit()
	if flag < 0 {
		return io.EOF
	}
	if flag == 1 {
		var lit int
		if d.threeTree {
			v, err := d.litTree.read(d.bits)
			if err != nil {
				return err
			}
			lit = v
		} else {
			v := d.bits.nextBits(8)
			if v < 0 {
				return io.ErrUnexpectedEOF
			}
			lit = v
		}
		d.window.put(byte(lit))
		return nil
	}

	low := d.bits.nextBits(d.lowDistBits)
	if low < 0 {
		return io.ErrUnexpectedEOF
	}
	high, err := d.distTree.read(d.bits)
	if err != nil {
		return err
	}
	distance := ((high << uint(d.lowDistBits)) | low) + 1

	length, err := d.lenTree.read(d.bits)
	if err != nil {
		return err
	}
	if length == 63 {
		tail := d.bits.nextBits(8)
		if tail < 0 {
			return io.ErrUnexpectedEOF
		}
		length += tail
	}
	length += d.minLength

	d.window.copy(distance, length)
	return nil
}

// Read implements io.Reader, draining decoded bytes through the circular
// window, decoding more symbols on demand.
func (d *explodeDecoder) Read(p []byte) (int, error) {
	if d.err != nil && !d.window.available() {
		return 0, d.err
	}
	n := 0
	for n < len(p) {
		if d.window.available() {
			p[n] = byte(d.window.get())
			n++
			continue
		}
		if d.err != nil {
			break
		}
		if err := d.decodeOne(); err != nil {
			d.err = err
			if err == io.EOF && d.window.available() {
				continue
			}
			break
		}
	}
	if n > 0 {
		return n, nil
	}
	return 0, d.err
}

func (d *explodeDecoder) Close() error { return nil }
