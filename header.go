package zipkit

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Record signatures (spec.md §2): each structure on the wire is introduced
// by one of these four-byte little-endian magic numbers.
const (
	sigLocalFileHeader   = 0x04034b50
	sigDataDescriptor    = 0x08074b50
	sigCentralDirHeader  = 0x02014b50
	sigZip64EOCDRecord   = 0x06064b50
	sigZip64EOCDLocator  = 0x07064b50
	sigEOCDRecord        = 0x06054b50
)

const (
	localFileHeaderFixedLen  = 30
	centralDirHeaderFixedLen = 46
	eocdFixedLen             = 22
	dataDescriptorLen32      = 16 // signature + crc32 + 2x uint32 sizes
	dataDescriptorLen64      = 24 // signature + crc32 + 2x uint64 sizes
	zip64EOCDRecordFixedLen  = 56
	zip64EOCDLocatorLen      = 20

	zipVersion20 = 20 // 2.0: default
	zipVersion45 = 45 // 4.5: zip64

	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19
)

// LocalFileHeader is the fixed-shape record (spec.md §2) that precedes an
// entry's compressed data.
type LocalFileHeader struct {
	ReaderVersion    uint16
	GPBFlag          GeneralPurposeBit
	Method           uint16
	ModTime, ModDate uint16
	CRC32            uint32
	CompressedSize   uint32 // possibly a zip64 sentinel (0xffffffff); see Extra
	UncompressedSize uint32
	NameLen          uint16
	ExtraLen         uint16

	NameBytes  []byte
	ExtraBytes []byte
}

// ParseLocalFileHeader reads and parses one local file header, including
// its variable-length name and extra field, from r. It does not check the
// signature is followed by anything in particular; the caller positions r.
func ParseLocalFileHeader(r io.Reader) (*LocalFileHeader, error) {
	var fixed [localFileHeaderFixedLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, newTruncated()
		}
		return nil, err
	}
	b := readBuf(fixed[:])
	sig := b.uint32()
	if sig != sigLocalFileHeader {
		return nil, newMalformed("local file header: bad signature %08x", sig)
	}
	h := &LocalFileHeader{}
	h.ReaderVersion = b.uint16()
	gpbRaw := b.uint16()
	h.GPBFlag = ParseGeneralPurposeBit([]byte{byte(gpbRaw), byte(gpbRaw >> 8)})
	h.Method = b.uint16()
	h.ModTime = b.uint16()
	h.ModDate = b.uint16()
	h.CRC32 = b.uint32()
	h.CompressedSize = b.uint32()
	h.UncompressedSize = b.uint32()
	h.NameLen = b.uint16()
	h.ExtraLen = b.uint16()

	h.NameBytes = make([]byte, h.NameLen)
	if _, err := io.ReadFull(r, h.NameBytes); err != nil {
		return nil, newTruncated()
	}
	h.ExtraBytes = make([]byte, h.ExtraLen)
	if _, err := io.ReadFull(r, h.ExtraBytes); err != nil {
		return nil, newTruncated()
	}
	return h, nil
}

// EncodeLocalFileHeader writes h (including its name and extra bytes) to w.
func EncodeLocalFileHeader(w io.Writer, h *LocalFileHeader) error {
	if len(h.NameBytes) > 0xffff {
		return errLongName
	}
	if len(h.ExtraBytes) > 0xffff {
		return errLongExtra
	}
	var buf [localFileHeaderFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigLocalFileHeader)
	b.uint16(h.ReaderVersion)
	gpb := h.GPBFlag.Encode()
	b.uint16(binary.LittleEndian.Uint16(gpb[:]))
	b.uint16(h.Method)
	b.uint16(h.ModTime)
	b.uint16(h.ModDate)
	b.uint32(h.CRC32)
	b.uint32(h.CompressedSize)
	b.uint32(h.UncompressedSize)
	b.uint16(uint16(len(h.NameBytes)))
	b.uint16(uint16(len(h.ExtraBytes)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := w.Write(h.NameBytes); err != nil {
		return err
	}
	_, err := w.Write(h.ExtraBytes)
	return err
}

// CentralDirectoryHeader is one entry of the central directory.
type CentralDirectoryHeader struct {
	CreatorVersion   uint16
	ReaderVersion    uint16
	GPBFlag          GeneralPurposeBit
	Method           uint16
	ModTime, ModDate uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLen          uint16
	ExtraLen         uint16
	CommentLen       uint16
	DiskStart        uint16
	InternalAttrs    uint16
	ExternalAttrs    uint32
	LocalHeaderOffset uint32

	NameBytes    []byte
	ExtraBytes   []byte
	CommentBytes []byte
}

// ParseCentralDirectoryHeader reads one central directory record from r.
func ParseCentralDirectoryHeader(r io.Reader) (*CentralDirectoryHeader, error) {
	var fixed [centralDirHeaderFixedLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, newTruncated()
	}
	b := readBuf(fixed[:])
	sig := b.uint32()
	if sig != sigCentralDirHeader {
		return nil, newMalformed("central directory header: bad signature %08x", sig)
	}
	h := &CentralDirectoryHeader{}
	h.CreatorVersion = b.uint16()
	h.ReaderVersion = b.uint16()
	gpbRaw := b.uint16()
	h.GPBFlag = ParseGeneralPurposeBit([]byte{byte(gpbRaw), byte(gpbRaw >> 8)})
	h.Method = b.uint16()
	h.ModTime = b.uint16()
	h.ModDate = b.uint16()
	h.CRC32 = b.uint32()
	h.CompressedSize = b.uint32()
	h.UncompressedSize = b.uint32()
	h.NameLen = b.uint16()
	h.ExtraLen = b.uint16()
	h.CommentLen = b.uint16()
	h.DiskStart = b.uint16()
	h.InternalAttrs = b.uint16()
	h.ExternalAttrs = b.uint32()
	h.LocalHeaderOffset = b.uint32()

	h.NameBytes = make([]byte, h.NameLen)
	if _, err := io.ReadFull(r, h.NameBytes); err != nil {
		return nil, newTruncated()
	}
	h.ExtraBytes = make([]byte, h.ExtraLen)
	if _, err := io.ReadFull(r, h.ExtraBytes); err != nil {
		return nil, newTruncated()
	}
	h.CommentBytes = make([]byte, h.CommentLen)
	if _, err := io.ReadFull(r, h.CommentBytes); err != nil {
		return nil, newTruncated()
	}
	return h, nil
}

// EncodeCentralDirectoryHeader writes h to w.
func EncodeCentralDirectoryHeader(w io.Writer, h *CentralDirectoryHeader) error {
	if len(h.NameBytes) > 0xffff {
		return errLongName
	}
	if len(h.ExtraBytes) > 0xffff {
		return errLongExtra
	}
	if len(h.CommentBytes) > 0xffff {
		return errLongComment
	}
	var buf [centralDirHeaderFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigCentralDirHeader)
	b.uint16(h.CreatorVersion)
	b.uint16(h.ReaderVersion)
	gpb := h.GPBFlag.Encode()
	b.uint16(binary.LittleEndian.Uint16(gpb[:]))
	b.uint16(h.Method)
	b.uint16(h.ModTime)
	b.uint16(h.ModDate)
	b.uint32(h.CRC32)
	b.uint32(h.CompressedSize)
	b.uint32(h.UncompressedSize)
	b.uint16(uint16(len(h.NameBytes)))
	b.uint16(uint16(len(h.ExtraBytes)))
	b.uint16(uint16(len(h.CommentBytes)))
	b.uint16(h.DiskStart)
	b.uint16(h.InternalAttrs)
	b.uint32(h.ExternalAttrs)
	b.uint32(h.LocalHeaderOffset)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := w.Write(h.NameBytes); err != nil {
		return err
	}
	if _, err := w.Write(h.ExtraBytes); err != nil {
		return err
	}
	_, err := w.Write(h.CommentBytes)
	return err
}

// saturated32 reports whether a 32-bit header field was written as the zip64 sentinel
// 0xffffffff, meaning the real value lives in a Zip64Extra instead.
func saturated32(v uint32) bool { return v == 0xffffffff }

// ResolveSizes returns the entry's true compressed/uncompressed sizes and
// local header offset, consulting z64 (which may be nil) only for the
// fields that were saturated in the fixed-width header.
func ResolveSizes(compressed, uncompressed, offset uint32, diskStart uint16, z64 *Zip64Extra) (compSize, uncompSize, hdrOffset uint64, disk uint32, err error) {
	compSize, uncompSize, hdrOffset = uint64(compressed), uint64(uncompressed), uint64(offset)
	disk = uint32(diskStart)
	needComp := saturated32(compressed)
	needUncomp := saturated32(uncompressed)
	needOffset := saturated32(offset)
	needDisk := diskStart == 0xffff
	if !needComp && !needUncomp && !needOffset && !needDisk {
		return
	}
	if z64 == nil {
		err = newMalformed("zip64 sizes indicated but no zip64 extra field present")
		return
	}
	if needUncomp {
		if z64.UncompressedSize == nil {
			err = newMalformed("zip64 extra field missing uncompressed size")
			return
		}
		uncompSize = *z64.UncompressedSize
	}
	if needComp {
		if z64.CompressedSize == nil {
			err = newMalformed("zip64 extra field missing compressed size")
			return
		}
		compSize = *z64.CompressedSize
	}
	if needOffset {
		if z64.LocalHeaderOffset == nil {
			err = newMalformed("zip64 extra field missing local header offset")
			return
		}
		hdrOffset = *z64.LocalHeaderOffset
	}
	if needDisk {
		if z64.DiskStart == nil {
			err = newMalformed("zip64 extra field missing disk start")
			return
		}
		disk = *z64.DiskStart
	}
	return
}

// DataDescriptor is the optional trailer written after an entry's
// compressed data when GPB bit 3 is set (spec.md §2, §4).
type DataDescriptor struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	Zip64            bool // whether sizes were written as 8-byte fields
}

// ParseDataDescriptor reads a data descriptor from r. Per the format's
// long-standing ambiguity, the 4-byte signature is optional; callers that
// already peeked the first 4 bytes should pass sigAlreadyConsumed=true.
// When r is already a *bufio.Reader it is used directly, so no bytes
// beyond the descriptor itself are consumed from it.
func ParseDataDescriptor(r io.Reader, zip64 bool, sigAlreadyConsumed bool) (*DataDescriptor, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	if !sigAlreadyConsumed {
		sigBytes, err := br.Peek(4)
		if err == nil && binary.LittleEndian.Uint32(sigBytes) == sigDataDescriptor {
			br.Discard(4)
		}
	}
	size := dataDescriptorLen32 - 4
	if zip64 {
		size = dataDescriptorLen64 - 4
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, newTruncated()
	}
	b := readBuf(buf)
	dd := &DataDescriptor{Zip64: zip64}
	dd.CRC32 = b.uint32()
	if zip64 {
		dd.CompressedSize = b.uint64()
		dd.UncompressedSize = b.uint64()
	} else {
		dd.CompressedSize = uint64(b.uint32())
		dd.UncompressedSize = uint64(b.uint32())
	}
	return dd, nil
}

// EncodeDataDescriptor writes dd to w, always including the de-facto
// standard signature (required by some readers, notably OS X Finder's).
func EncodeDataDescriptor(w io.Writer, dd *DataDescriptor) error {
	size := dataDescriptorLen32
	if dd.Zip64 {
		size = dataDescriptorLen64
	}
	buf := make([]byte, size)
	b := writeBuf(buf)
	b.uint32(sigDataDescriptor)
	b.uint32(dd.CRC32)
	if dd.Zip64 {
		b.uint64(dd.CompressedSize)
		b.uint64(dd.UncompressedSize)
	} else {
		b.uint32(uint32(dd.CompressedSize))
		b.uint32(uint32(dd.UncompressedSize))
	}
	_, err := w.Write(buf)
	return err
}

// EOCDRecord is the fixed-shape End Of Central Directory record.
type EOCDRecord struct {
	DiskNumber        uint16
	CentralDirDisk    uint16
	EntriesThisDisk    uint16
	EntriesTotal       uint16
	CentralDirSize     uint32
	CentralDirOffset   uint32
	Comment            []byte
}

// EncodeEOCD writes e to w.
func EncodeEOCD(w io.Writer, e *EOCDRecord) error {
	if len(e.Comment) > 0xffff {
		return errLongComment
	}
	var buf [eocdFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigEOCDRecord)
	b.uint16(e.DiskNumber)
	b.uint16(e.CentralDirDisk)
	b.uint16(e.EntriesThisDisk)
	b.uint16(e.EntriesTotal)
	b.uint32(e.CentralDirSize)
	b.uint32(e.CentralDirOffset)
	b.uint16(uint16(len(e.Comment)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := w.Write(e.Comment)
	return err
}

// ParseEOCD parses the fixed portion (plus comment) of an EOCD record
// already located at the current position of r.
func ParseEOCD(r io.Reader) (*EOCDRecord, error) {
	var fixed [eocdFixedLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, newTruncated()
	}
	b := readBuf(fixed[:])
	sig := b.uint32()
	if sig != sigEOCDRecord {
		return nil, newMalformed("end of central directory: bad signature %08x", sig)
	}
	e := &EOCDRecord{}
	e.DiskNumber = b.uint16()
	e.CentralDirDisk = b.uint16()
	e.EntriesThisDisk = b.uint16()
	e.EntriesTotal = b.uint16()
	e.CentralDirSize = b.uint32()
	e.CentralDirOffset = b.uint32()
	commentLen := b.uint16()
	e.Comment = make([]byte, commentLen)
	if _, err := io.ReadFull(r, e.Comment); err != nil {
		return nil, newTruncated()
	}
	return e, nil
}

// Zip64EOCDLocator points from just before the ordinary EOCD record to the
// Zip64 EOCD record, which may live on a different disk.
type Zip64EOCDLocator struct {
	CentralDirDisk   uint32
	EOCDOffset       uint64
	TotalDisks       uint32
}

func ParseZip64EOCDLocator(r io.Reader) (*Zip64EOCDLocator, error) {
	var buf [zip64EOCDLocatorLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, newTruncated()
	}
	b := readBuf(buf[:])
	sig := b.uint32()
	if sig != sigZip64EOCDLocator {
		return nil, newMalformed("zip64 EOCD locator: bad signature %08x", sig)
	}
	l := &Zip64EOCDLocator{}
	l.CentralDirDisk = b.uint32()
	l.EOCDOffset = b.uint64()
	l.TotalDisks = b.uint32()
	return l, nil
}

func EncodeZip64EOCDLocator(w io.Writer, l *Zip64EOCDLocator) error {
	var buf [zip64EOCDLocatorLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigZip64EOCDLocator)
	b.uint32(l.CentralDirDisk)
	b.uint64(l.EOCDOffset)
	b.uint32(l.TotalDisks)
	_, err := w.Write(buf[:])
	return err
}

// Zip64EOCDRecord is the Zip64 analogue of EOCDRecord, with 8-byte counts
// and sizes and room for an extensible data sector this codec does not
// interpret.
type Zip64EOCDRecord struct {
	VersionMadeBy     uint16
	VersionNeeded     uint16
	DiskNumber        uint32
	CentralDirDisk    uint32
	EntriesThisDisk   uint64
	EntriesTotal      uint64
	CentralDirSize    uint64
	CentralDirOffset  uint64
	ExtensibleData    []byte
}

func ParseZip64EOCDRecord(r io.Reader) (*Zip64EOCDRecord, error) {
	var fixed [zip64EOCDRecordFixedLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, newTruncated()
	}
	b := readBuf(fixed[:])
	sig := b.uint32()
	if sig != sigZip64EOCDRecord {
		return nil, newMalformed("zip64 EOCD record: bad signature %08x", sig)
	}
	size := b.uint64() // record size following this field, excluding signature+size itself
	rec := &Zip64EOCDRecord{}
	rec.VersionMadeBy = b.uint16()
	rec.VersionNeeded = b.uint16()
	rec.DiskNumber = b.uint32()
	rec.CentralDirDisk = b.uint32()
	rec.EntriesThisDisk = b.uint64()
	rec.EntriesTotal = b.uint64()
	rec.CentralDirSize = b.uint64()
	rec.CentralDirOffset = b.uint64()

	const fixedAfterSizeField = zip64EOCDRecordFixedLen - 12 // minus signature(4)+size(8)
	extra := int64(size) - fixedAfterSizeField
	if extra < 0 {
		return nil, newMalformed("zip64 EOCD record: size field %d shorter than fixed portion", size)
	}
	if extra > 0 {
		rec.ExtensibleData = make([]byte, extra)
		if _, err := io.ReadFull(r, rec.ExtensibleData); err != nil {
			return nil, newTruncated()
		}
	}
	return rec, nil
}

func EncodeZip64EOCDRecord(w io.Writer, rec *Zip64EOCDRecord) error {
	const fixedAfterSizeField = zip64EOCDRecordFixedLen - 12
	size := uint64(fixedAfterSizeField + len(rec.ExtensibleData))
	var buf [zip64EOCDRecordFixedLen]byte
	b := writeBuf(buf[:])
	b.uint32(sigZip64EOCDRecord)
	b.uint64(size)
	b.uint16(rec.VersionMadeBy)
	b.uint16(rec.VersionNeeded)
	b.uint32(rec.DiskNumber)
	b.uint32(rec.CentralDirDisk)
	b.uint64(rec.EntriesThisDisk)
	b.uint64(rec.EntriesTotal)
	b.uint64(rec.CentralDirSize)
	b.uint64(rec.CentralDirOffset)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := w.Write(rec.ExtensibleData)
	return err
}
