package zipkit

// GeneralPurposeBit is the 16-bit general-purpose bit flag carried in both
// the local file header and the central directory header. It is a value
// type: copying it copies the flags.
type GeneralPurposeBit uint16

const (
	gpbEncrypted       GeneralPurposeBit = 1 << 0
	gpbImplodeDictBit  GeneralPurposeBit = 1 << 1 // also low bit of strong-encryption pair
	gpbImplodeTreeBit  GeneralPurposeBit = 1 << 2
	gpbDataDescriptor  GeneralPurposeBit = 1 << 3
	gpbStrongEncrypted GeneralPurposeBit = 1 << 6
	gpbUTF8            GeneralPurposeBit = 1 << 11
)

// ParseGeneralPurposeBit decodes the 2-byte little-endian flag word at
// offset 0 of the given bytes.
func ParseGeneralPurposeBit(b []byte) GeneralPurposeBit {
	buf := readBuf(b[:2])
	return GeneralPurposeBit(buf.uint16())
}

// Encode returns the 2-byte little-endian wire form of the flag word.
func (g GeneralPurposeBit) Encode() [2]byte {
	var out [2]byte
	buf := writeBuf(out[:])
	buf.uint16(uint16(g))
	return out
}

// HasDataDescriptor reports bit 3: CRC32/sizes are zero in the local header
// and a data descriptor follows the payload.
func (g GeneralPurposeBit) HasDataDescriptor() bool { return g&gpbDataDescriptor != 0 }

// WithDataDescriptor returns a copy with bit 3 set or cleared.
func (g GeneralPurposeBit) WithDataDescriptor(v bool) GeneralPurposeBit {
	return setBit(g, gpbDataDescriptor, v)
}

// UsesUTF8 reports bit 11 (language encoding flag): name and comment are
// UTF-8 regardless of the archive-wide default encoding.
func (g GeneralPurposeBit) UsesUTF8() bool { return g&gpbUTF8 != 0 }

// WithUTF8 returns a copy with bit 11 set or cleared.
func (g GeneralPurposeBit) WithUTF8(v bool) GeneralPurposeBit {
	return setBit(g, gpbUTF8, v)
}

// IsEncrypted reports bit 0. Strong encryption (bit 6) implies encryption.
func (g GeneralPurposeBit) IsEncrypted() bool {
	return g&gpbEncrypted != 0 || g&gpbStrongEncrypted != 0
}

// IsStrongEncrypted reports bit 6; bits 1 and 6 together denote strong
// encryption per the PKWARE appnote.
func (g GeneralPurposeBit) IsStrongEncrypted() bool {
	return g&gpbStrongEncrypted != 0 && g&gpbImplodeDictBit != 0
}

// ImplodeDictionarySize returns 8192 if bit 1 is set, else 4096. Only
// meaningful when the entry's method is Implode.
func (g GeneralPurposeBit) ImplodeDictionarySize() int {
	if g&gpbImplodeDictBit != 0 {
		return 8192
	}
	return 4096
}

// SetImplodeDictionarySize sets bit 1 for an 8192-byte sliding dictionary,
// clears it for 4096.
func (g GeneralPurposeBit) SetImplodeDictionarySize(size int) GeneralPurposeBit {
	return setBit(g, gpbImplodeDictBit, size == 8192)
}

// ImplodeTreeCount returns 3 if bit 2 is set, else 2. Only meaningful when
// the entry's method is Implode.
func (g GeneralPurposeBit) ImplodeTreeCount() int {
	if g&gpbImplodeTreeBit != 0 {
		return 3
	}
	return 2
}

// SetImplodeTreeCount sets bit 2 for 3 Shannon-Fano trees, clears it for 2.
func (g GeneralPurposeBit) SetImplodeTreeCount(count int) GeneralPurposeBit {
	return setBit(g, gpbImplodeTreeBit, count == 3)
}

func setBit(g GeneralPurposeBit, mask GeneralPurposeBit, v bool) GeneralPurposeBit {
	if v {
		return g | mask
	}
	return g &^ mask
}
