package zipkit

import (
	"bufio"
	"io"
)

const (
	unshrinkMinBits  = 9
	unshrinkMaxBits  = 13
	unshrinkMaxCodes = 1 << unshrinkMaxBits
	unshrinkClear    = 256
)

// unshrinkDecoder decodes PKZIP's Shrink method (1): 9-bit-to-13-bit LZW
// with a partial-clear control code instead of full table resets.
type unshrinkDecoder struct {
	bits *lsbCodeReader

	prefix [unshrinkMaxCodes]int32 // prefix code, or -1 for a root (single-byte) entry
	suffix [unshrinkMaxCodes]byte
	isUsed [unshrinkMaxCodes]bool // used to find free slots after a partial clear
	isPrefixOfOther [unshrinkMaxCodes]bool

	codeBits int
	nextFree int

	prevCode   int
	prevString []byte
	stack      []byte // scratch buffer, reused across calls

	started bool
	err     error

	pendingBuf []byte // bytes decoded but not yet copied out by Read
}

func newUnshrinkDecoder(r io.Reader) *unshrinkDecoder {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := &unshrinkDecoder{
		bits:     newLSBCodeReader(br),
		codeBits: unshrinkMinBits,
	}
	d.resetTable()
	return d
}

// resetTable restores the 256 single-byte root entries and clears all
// entries above them, the state used both at start-of-stream and after a
// full reset (which this format never issues, but a local helper keeps
// initialization and partial-clear symmetric).
func (d *unshrinkDecoder) resetTable() {
	for i := 0; i < 256; i++ {
		d.prefix[i] = -1
		d.suffix[i] = byte(i)
		d.isUsed[i] = true
		d.isPrefixOfOther[i] = false
	}
	for i := 256; i < unshrinkMaxCodes; i++ {
		d.isUsed[i] = false
		d.isPrefixOfOther[i] = false
	}
	d.nextFree = 257
}

// partialClear marks as free every entry above the 256 literals that is
// not currently a prefix of some other entry, per spec.md §4.10.
func (d *unshrinkDecoder) partialClear() {
	for i := 256; i < unshrinkMaxCodes; i++ {
		if d.isUsed[i] && !d.isPrefixOfOther[i] {
			d.isUsed[i] = false
		}
	}
	for i := 256; i < unshrinkMaxCodes; i++ {
		d.isPrefixOfOther[i] = false
	}
	for i := 0; i < unshrinkMaxCodes; i++ {
		if d.isUsed[i] && d.prefix[i] >= 0 {
			d.isPrefixOfOther[d.prefix[i]] = true
		}
	}
	d.nextFree = 257 // 256 stays reserved for the control code
	d.advanceNextFree()
}

func (d *unshrinkDecoder) advanceNextFree() {
	for d.nextFree < unshrinkMaxCodes && d.isUsed[d.nextFree] {
		d.nextFree++
	}
}

// stringFor reconstructs the byte sequence for code into dst (appended),
// walking the prefix chain from the leaf back to the root.
func (d *unshrinkDecoder) stringFor(code int, dst []byte) []byte {
	start := len(dst)
	for code >= 0 {
		dst = append(dst, d.suffix[code])
		code = int(d.prefix[code])
	}
	// dst was appended tail-first (leaf's last byte first); reverse the
	// portion we just added.
	reverseBytesFrom(dst, start)
	return dst
}

func reverseBytesFrom(b []byte, start int) {
	for i, j := start, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// decodeOne decodes the next code and returns the resulting string (valid
// until the next call). Returns io.EOF cleanly at a code boundary.
func (d *unshrinkDecoder) decodeOne() ([]byte, error) {
	code, ok := d.bits.read(d.codeBits)
	if !ok {
		return nil, io.EOF
	}
	if code == unshrinkClear {
		sub, ok := d.bits.read(d.codeBits)
		if !ok {
			return nil, newTruncated()
		}
		switch sub {
		case 1:
			if d.codeBits < unshrinkMaxBits {
				d.codeBits++
			}
		case 2:
			d.partialClear()
		default:
			return nil, newMalformed("unshrink: unknown control sub-code %d", sub)
		}
		return d.decodeOne()
	}

	if !d.started {
		if code >= 256 {
			return nil, newMalformed("unshrink: first code %d is not a literal", code)
		}
		d.started = true
		d.prevCode = code
		d.prevString = d.stringFor(code, d.prevString[:0])
		out := make([]byte, len(d.prevString))
		copy(out, d.prevString)
		return out, nil
	}

	var result []byte
	if d.isUsed[code] {
		result = d.stringFor(code, d.stack[:0])
	} else if code == d.nextFree {
		// KwKwK case: the code being defined is the one we're about to
		// decode; its string is prevString + prevString[0].
		result = d.stringFor(d.prevCode, d.stack[:0])
		result = append(result, result[0])
	} else {
		return nil, newMalformed("unshrink: code %d references an undefined (and not just-vacated) table entry", code)
	}
	d.stack = result[:0]

	if d.nextFree < unshrinkMaxCodes {
		d.prefix[d.nextFree] = int32(d.prevCode)
		d.suffix[d.nextFree] = result[0]
		d.isUsed[d.nextFree] = true
		d.isPrefixOfOther[d.prevCode] = true
		d.advanceNextFree()
	}

	d.prevCode = code
	d.prevString = append(d.prevString[:0], result...)

	out := make([]byte, len(result))
	copy(out, result)
	return out, nil
}

// Read implements io.Reader, decoding symbols on demand and delivering
// their expansion byte by byte.
func (d *unshrinkDecoder) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(d.pendingBuf) > 0 {
			c := copy(p[n:], d.pendingBuf)
			d.pendingBuf = d.pendingBuf[c:]
			n += c
			continue
		}
		if d.err != nil {
			break
		}
		buf, err := d.decodeOne()
		if err != nil {
			d.err = err
			continue
		}
		d.pendingBuf = buf
	}
	if n > 0 {
		return n, nil
	}
	return 0, d.err
}

func (d *unshrinkDecoder) Close() error { return nil }
