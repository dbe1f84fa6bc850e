package zipkit

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ZipEncoding is a pluggable byte<->text codec for entry names and
// comments. Unlike a plain charset codec it can also report, per name,
// whether the round trip is lossless ("can encode this name"), and falls
// back to the Info-ZIP-compatible "%Uxxxx" escape for code points it
// cannot represent.
//
// Names are modeled the way the ZIP format (and the Java implementations
// this core's test suite was written against) model them: as a sequence of
// UTF-16 code units, not Unicode scalar values. EncodeRunes exposes that
// level directly so callers (and this package's own tests) can construct
// isolated/partial surrogates, which a valid Go string cannot hold.
type ZipEncoding interface {
	// CanEncode reports whether name round-trips through Encode without
	// falling back to any %Uxxxx escape.
	CanEncode(name string) bool
	// Encode returns the archive-encoded bytes for name, escaping any code
	// unit it cannot represent.
	Encode(name string) []byte
	// EncodeRunes is like Encode but takes UTF-16 code units already split
	// out of their rune sequence, so isolated surrogate halves can be
	// exercised directly.
	EncodeRunes(runes []rune) []byte
	// Decode returns the text for archive-encoded bytes b.
	Decode(b []byte) string
}

// unitEncoder is the minimal per-code-unit codec that every ZipEncoding
// implementation here is built from.
type unitEncoder interface {
	// encodeUnit returns the encoded bytes for one UTF-16 code unit and
	// whether it was representable at all.
	encodeUnit(u uint16) ([]byte, bool)
	decode(b []byte) string
}

type baseEncoding struct {
	unitEncoder
}

func (e baseEncoding) CanEncode(name string) bool {
	for _, u := range utf16.Encode([]rune(name)) {
		if _, ok := e.encodeUnit(u); !ok {
			return false
		}
	}
	return true
}

func (e baseEncoding) Encode(name string) []byte {
	return e.EncodeRunes([]rune(name))
}

func (e baseEncoding) EncodeRunes(runes []rune) []byte {
	// Split into code units by hand: utf16.Encode would replace a
	// surrogate-range rune with U+FFFD instead of keeping the half as given.
	units := make([]uint16, 0, len(runes))
	for _, r := range runes {
		if r >= 0x10000 {
			r1, r2 := utf16.EncodeRune(r)
			units = append(units, uint16(r1), uint16(r2))
		} else {
			units = append(units, uint16(r))
		}
	}
	out := make([]byte, 0, len(units))
	for i := 0; i < len(units); i++ {
		u := units[i]
		if b, ok := e.encodeUnit(u); ok {
			out = append(out, b...)
			continue
		}
		// A high surrogate (0xD800-0xDBFF) that is the last unit with
		// nothing following it is a truncated surrogate pair: the whole
		// encode aborts rather than emitting a partial escape.
		if u >= 0xD800 && u <= 0xDBFF && i == len(units)-1 {
			return []byte{}
		}
		out = append(out, escapeUnit(u)...)
	}
	return out
}

func (e baseEncoding) Decode(b []byte) string { return e.unitEncoder.decode(b) }

func escapeUnit(u uint16) []byte {
	return []byte(fmt.Sprintf("%%U%04X", u))
}

// --- UTF-8 ---

type utf8Unit struct{}

func (utf8Unit) encodeUnit(u uint16) ([]byte, bool) {
	if u >= 0xD800 && u <= 0xDFFF {
		return nil, false // a lone surrogate is never valid UTF-8
	}
	var buf [4]byte
	n := utf8.EncodeRune(buf[:], rune(u))
	return buf[:n], true
}

func (utf8Unit) decode(b []byte) string { return string(b) }

// UTF8Encoding is the identity codec: archive bytes are UTF-8 text.
var UTF8Encoding ZipEncoding = baseEncoding{utf8Unit{}}

// --- US-ASCII ---

type asciiUnit struct{}

func (asciiUnit) encodeUnit(u uint16) ([]byte, bool) {
	if u >= 0x80 {
		return nil, false
	}
	return []byte{byte(u)}, true
}

func (asciiUnit) decode(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

// USASCIIEncoding maps code points 0x00-0x7F only; anything else escapes.
var USASCIIEncoding ZipEncoding = baseEncoding{asciiUnit{}}

// --- UTF-16BE ---

type utf16BEUnit struct{}

func (utf16BEUnit) encodeUnit(u uint16) ([]byte, bool) {
	return []byte{byte(u >> 8), byte(u)}, true // every 16-bit unit is representable raw
}

func (utf16BEUnit) decode(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(units))
}

// UTF16BEEncoding stores each code unit as two big-endian bytes; it never
// needs to escape since it can represent any 16-bit value including
// surrogate halves.
var UTF16BEEncoding ZipEncoding = baseEncoding{utf16BEUnit{}}

// --- charmap-backed 8-bit codecs (CP437, ISO-8859-1) ---

type charmapUnit struct {
	cm *charmap.Charmap
}

func (c charmapUnit) encodeUnit(u uint16) ([]byte, bool) {
	if u >= 0xD800 && u <= 0xDFFF {
		return nil, false
	}
	b, ok := c.cm.EncodeRune(rune(u))
	if !ok {
		// charmap.EncodeRune returns the substitution byte with ok=false
		// for unmappable runes; treat that as "cannot encode" rather than
		// silently substituting.
		return nil, false
	}
	return []byte{b}, true
}

func (c charmapUnit) decode(b []byte) string {
	out := make([]rune, len(b))
	for i, x := range b {
		out[i] = c.cm.DecodeByte(x)
	}
	return string(out)
}

// CP437Encoding is PKZIP's traditional default code page.
var CP437Encoding ZipEncoding = baseEncoding{charmapUnit{cm: charmap.CodePage437}}

// IBM8859_1Encoding is ISO-8859-1 / Latin-1.
var IBM8859_1Encoding ZipEncoding = baseEncoding{charmapUnit{cm: charmap.ISO8859_1}}

// DefaultEncoding is the archive-wide default used when an entry's
// general-purpose bit 11 (UTF-8) is not set and no other encoding was
// configured.
var DefaultEncoding = CP437Encoding

// selectEncoding returns the encoding that must be used for a given entry's
// name/comment: UTF-8 is forced whenever GPB bit 11 is set, regardless of
// the archive-wide default (spec.md invariant 2).
func selectEncoding(gpb GeneralPurposeBit, archiveDefault ZipEncoding) ZipEncoding {
	if gpb.UsesUTF8() {
		return UTF8Encoding
	}
	if archiveDefault == nil {
		return DefaultEncoding
	}
	return archiveDefault
}
