package zipkit

import (
	"hash/crc32"
	"time"
)

// Header ids for the extra fields this core recognizes out of the box.
const (
	idZip64            uint16 = 0x0001
	idAsi              uint16 = 0x756e
	idExtendedTime     uint16 = 0x5455
	idNTFS             uint16 = 0x000a
	idUnicodePath      uint16 = 0x7075
	idUnicodeComment   uint16 = 0x6375
	idNewUnix          uint16 = 0x7875
	idInfoZipUnix      uint16 = 0x5855
)

// ExtraField is a single parsed extra-field record. Concrete types below
// implement it; UnrecognizedExtraField and UnparseableExtraFieldData are
// the catch-all variants.
type ExtraField interface {
	// HeaderID is the 2-byte field identifier.
	HeaderID() uint16
	// EncodeLocal returns this field's id||len||payload form for the local
	// file header.
	EncodeLocal() []byte
	// EncodeCentral returns this field's id||len||payload form for the
	// central directory header. Most fields encode identically in both
	// places; X7875_NewUnix is empty in the central variant.
	EncodeCentral() []byte
}

// rawIDLen wraps id/payload bytes with the standard 4-byte id+length prefix
// used by every extra field's wire encoding except the unparseable
// sentinel (whose raw bytes already include it).
func rawIDLen(id uint16, payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	b := writeBuf(out)
	b.uint16(id)
	b.uint16(uint16(len(payload)))
	copy(b, payload)
	return out
}

// UnrecognizedExtraField preserves an extra field whose header id has no
// registered parser, keeping its local and central byte forms verbatim.
type UnrecognizedExtraField struct {
	ID      uint16
	Local   []byte
	Central []byte
}

func (f *UnrecognizedExtraField) HeaderID() uint16      { return f.ID }
func (f *UnrecognizedExtraField) EncodeLocal() []byte   { return rawIDLen(f.ID, f.Local) }
func (f *UnrecognizedExtraField) EncodeCentral() []byte { return rawIDLen(f.ID, f.Central) }

// UnparseableExtraFieldData is the sentinel stored under PolicyRead when a
// trailing field's declared length runs past the end of the extra block. It
// stores the raw id||len||bytes remainder verbatim so re-emission
// round-trips exactly. An error from a registered parser never produces
// this sentinel.
type UnparseableExtraFieldData struct {
	Raw []byte
}

func (f *UnparseableExtraFieldData) HeaderID() uint16 {
	if len(f.Raw) < 2 {
		return 0
	}
	rb := readBuf(f.Raw[:2])
	return rb.uint16()
}
func (f *UnparseableExtraFieldData) EncodeLocal() []byte   { return f.Raw }
func (f *UnparseableExtraFieldData) EncodeCentral() []byte { return f.Raw }

// UnparseablePolicy controls how the registry reacts to a field whose
// declared length exceeds the remaining bytes. Errors returned by a field's
// parser fail the parse under every policy.
type UnparseablePolicy int

const (
	// PolicyStrict fails the whole parse with a MalformedError.
	PolicyStrict UnparseablePolicy = iota
	// PolicyRead wraps the offending remainder in an UnparseableExtraFieldData
	// sentinel and continues.
	PolicyRead
	// PolicySkip silently drops the offending remainder.
	PolicySkip
)

// ParserFactory builds an ExtraField from a single field's payload bytes,
// taken from one header; isLocal reports whether that header is a local
// file header or a central directory header, so a field whose layout
// differs between the two can parse either.
type ParserFactory func(id uint16, isLocal bool, payload []byte) (ExtraField, error)

// ExtraFieldRegistry maps a header id to the parser used to decode it. The
// zero value is usable (parses nothing but the sentinel variants); use
// DefaultRegistry for the shared one pre-populated with this core's
// well-known fields. Per spec.md §5, mutate a registry only before sharing it across
// goroutines; concurrent Parse calls on an already-built registry are safe.
type ExtraFieldRegistry struct {
	parsers map[uint16]ParserFactory
}

// NewExtraFieldRegistry returns an empty registry.
func NewExtraFieldRegistry() *ExtraFieldRegistry {
	return &ExtraFieldRegistry{parsers: make(map[uint16]ParserFactory)}
}

// Register installs (or replaces) the parser for a header id.
func (r *ExtraFieldRegistry) Register(id uint16, factory ParserFactory) {
	if r.parsers == nil {
		r.parsers = make(map[uint16]ParserFactory)
	}
	r.parsers[id] = factory
}

var defaultRegistry = buildDefaultRegistry()

// DefaultRegistry returns the process-wide registry of well-known parsers
// (Zip64, Asi, NTFS, Unicode path/comment, New-Unix, extended timestamp).
// It is built once at package init and never mutated afterwards, so it is
// safe to share across goroutines; callers needing custom/bad parsers for
// testing should build their own registry instead of mutating this one.
func DefaultRegistry() *ExtraFieldRegistry { return defaultRegistry }

func buildDefaultRegistry() *ExtraFieldRegistry {
	r := NewExtraFieldRegistry()
	r.Register(idZip64, parseZip64Extra)
	r.Register(idAsi, parseAsiExtra)
	r.Register(idExtendedTime, parseExtendedTimeExtra)
	r.Register(idNTFS, parseNTFSExtra)
	r.Register(idUnicodePath, parseUnicodePathExtra)
	r.Register(idUnicodeComment, parseUnicodeCommentExtra)
	r.Register(idNewUnix, parseNewUnixExtra)
	r.Register(idInfoZipUnix, parseLegacyUnixExtra)
	return r
}

// ---- legacy Info-ZIP UNIX extra (0x5855) ----

// LegacyUnixExtra is the predecessor of NewUnixExtra: 32-bit atime/mtime
// (and, in the local header only, 16-bit uid/gid). Superseded by
// X7875_NewUnix but still emitted by some writers.
type LegacyUnixExtra struct {
	AccTime time.Time
	ModTime time.Time
	UID     uint16
	GID     uint16
}

func (f *LegacyUnixExtra) HeaderID() uint16 { return idInfoZipUnix }

func (f *LegacyUnixExtra) payload(local bool) []byte {
	n := 8
	if local {
		n += 4
	}
	out := make([]byte, n)
	b := writeBuf(out)
	b.uint32(uint32(f.AccTime.Unix()))
	b.uint32(uint32(f.ModTime.Unix()))
	if local {
		b.uint16(f.UID)
		b.uint16(f.GID)
	}
	return out
}
func (f *LegacyUnixExtra) EncodeLocal() []byte   { return rawIDLen(idInfoZipUnix, f.payload(true)) }
func (f *LegacyUnixExtra) EncodeCentral() []byte { return rawIDLen(idInfoZipUnix, f.payload(false)) }

func parseLegacyUnixExtra(_ uint16, isLocal bool, payload []byte) (ExtraField, error) {
	if len(payload) < 8 {
		return nil, newMalformed("legacy unix extra field too short")
	}
	b := readBuf(payload)
	out := &LegacyUnixExtra{
		AccTime: unixTimeToTime(b.uint32()),
		ModTime: unixTimeToTime(b.uint32()),
	}
	if isLocal && len(b) >= 4 {
		out.UID = b.uint16()
		out.GID = b.uint16()
	}
	return out, nil
}

// Parse decodes a concatenated sequence of {id(2),len(2),payload(len)}
// triples. isLocal selects which byte form (local vs central) ambiguous
// fields should interpret the payload as.
func (r *ExtraFieldRegistry) Parse(data []byte, isLocal bool, policy UnparseablePolicy) ([]ExtraField, error) {
	var fields []ExtraField
	buf := readBuf(data)
	start := 0
	for len(buf) > 0 {
		if len(buf) < 4 {
			return r.handleTruncated(data, start, len(buf), len(buf), policy, &fields)
		}
		idBuf := readBuf(buf[:2])
		id := idBuf.uint16()
		lenBuf := readBuf(buf[2:4])
		length := int(lenBuf.uint16())
		remaining := len(buf) - 4
		if length > remaining {
			return r.handleTruncated(data, start, length, remaining, policy, &fields)
		}
		buf = buf[4:]
		payload := buf[:length]
		buf = buf[length:]

		field, err := r.parseOne(id, isLocal, payload)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
		start = len(data) - len(buf)
	}
	return fields, nil
}

func (r *ExtraFieldRegistry) handleTruncated(data []byte, start, blockLen, remaining int, policy UnparseablePolicy, fields *[]ExtraField) ([]ExtraField, error) {
	switch policy {
	case PolicyStrict:
		return nil, newMalformed("Bad extra field starting at %d. Block length of %d bytes exceeds remaining data of %d bytes.", start, blockLen, remaining)
	case PolicyRead:
		*fields = append(*fields, &UnparseableExtraFieldData{Raw: append([]byte(nil), data[start:]...)})
		return *fields, nil
	default: // PolicySkip
		return *fields, nil
	}
}

// parseOne dispatches payload to the registered factory for id. An error
// the factory returns is passed through untouched, so CRC-protected fields
// like Asi surface their own fixed messages; only an out-of-bounds fault
// (panic) inside a parser is caught and translated to the generic
// corrupt-extra-field message.
func (r *ExtraFieldRegistry) parseOne(id uint16, isLocal bool, payload []byte) (field ExtraField, err error) {
	factory, ok := r.parsers[id]
	if !ok {
		return &UnrecognizedExtraField{ID: id, Local: payload, Central: payload}, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			field = nil
			err = extraFieldParseError(id, errFromRecover(rec))
		}
	}()
	return factory(id, isLocal, payload)
}

func errFromRecover(rec interface{}) error {
	if e, ok := rec.(error); ok {
		return e
	}
	return newMalformed("%v", rec)
}

// MergeLocal concatenates the local byte form of each field, in order.
func MergeLocal(fields []ExtraField) []byte {
	return mergeFields(fields, true)
}

// MergeCentral concatenates the central byte form of each field, in order.
func MergeCentral(fields []ExtraField) []byte {
	return mergeFields(fields, false)
}

func mergeFields(fields []ExtraField, local bool) []byte {
	var out []byte
	for _, f := range fields {
		if local {
			out = append(out, f.EncodeLocal()...)
		} else {
			out = append(out, f.EncodeCentral()...)
		}
	}
	return out
}

// ---- Zip64 extended information (0x0001) ----

// Zip64Extra carries the 8-byte overflow values for fields whose 4-byte (or
// 2-byte, for disk-start) header slot was saturated. Only the fields that
// were actually saturated are present, in the fixed order
// uncompressed-size, compressed-size, local-header-offset, disk-start.
type Zip64Extra struct {
	UncompressedSize *uint64
	CompressedSize   *uint64
	LocalHeaderOffset *uint64
	DiskStart         *uint32
}

func (f *Zip64Extra) HeaderID() uint16 { return idZip64 }

func (f *Zip64Extra) payload() []byte {
	var out []byte
	var buf [8]byte
	if f.UncompressedSize != nil {
		wb := writeBuf(buf[:])
		wb.uint64(*f.UncompressedSize)
		out = append(out, buf[:]...)
	}
	if f.CompressedSize != nil {
		wb := writeBuf(buf[:])
		wb.uint64(*f.CompressedSize)
		out = append(out, buf[:]...)
	}
	if f.LocalHeaderOffset != nil {
		wb := writeBuf(buf[:])
		wb.uint64(*f.LocalHeaderOffset)
		out = append(out, buf[:]...)
	}
	if f.DiskStart != nil {
		var b4 [4]byte
		wb := writeBuf(b4[:])
		wb.uint32(*f.DiskStart)
		out = append(out, b4[:]...)
	}
	return out
}

func (f *Zip64Extra) EncodeLocal() []byte   { return rawIDLen(idZip64, f.payload()) }
func (f *Zip64Extra) EncodeCentral() []byte { return rawIDLen(idZip64, f.payload()) }

// parseZip64Extra is registered in the default registry but the header
// codec normally re-parses the raw payload itself, mask-driven (it knows
// which 4-byte slots were saturated in the surrounding header, information
// this generic ParserFactory signature doesn't have). Here the payload
// length alone picks the slots, in order: 8, 16, 24 or 28 bytes decode;
// any other length is a decode error. That round-trips any field this
// core's own writer produces.
func parseZip64Extra(_ uint16, _ bool, payload []byte) (ExtraField, error) {
	n := len(payload)
	return ParseZip64Extra(payload, n >= 8, n >= 16, n >= 24, n >= 28)
}

// rawZip64Payload scans an undecoded extra-field block for the Zip64 field
// (id 0x0001) and returns its raw payload.
func rawZip64Payload(extra []byte) ([]byte, bool) {
	b := readBuf(extra)
	for len(b) >= 4 {
		id := b.uint16()
		l := int(b.uint16())
		if l > len(b) {
			break
		}
		p := b.sub(l)
		if id == idZip64 {
			return p, true
		}
	}
	return nil, false
}

// ParseZip64Extra decodes the Zip64 extra field payload given which of the
// four slots the surrounding header reported as saturated (0xFFFFFFFF, or
// 0xFFFF for disk-start), per spec.md §4.11: only saturated slots occupy an
// entry here, in order, and a payload whose length does not match that mask
// is a decode error.
func ParseZip64Extra(payload []byte, needUncompressed, needCompressed, needOffset, needDisk bool) (*Zip64Extra, error) {
	need := 0
	if needUncompressed {
		need += 8
	}
	if needCompressed {
		need += 8
	}
	if needOffset {
		need += 8
	}
	if needDisk {
		need += 4
	}
	if len(payload) != need {
		return nil, newMalformed("zip64 extra field is %d bytes but the header's saturated fields require %d", len(payload), need)
	}
	buf := readBuf(payload)
	out := &Zip64Extra{}
	if needUncompressed {
		v := buf.uint64()
		out.UncompressedSize = &v
	}
	if needCompressed {
		v := buf.uint64()
		out.CompressedSize = &v
	}
	if needOffset {
		v := buf.uint64()
		out.LocalHeaderOffset = &v
	}
	if needDisk {
		v := buf.uint32()
		out.DiskStart = &v
	}
	return out, nil
}

// ---- Asi UNIX extra field (0x756e) ----

// AsiExtraField carries POSIX mode, uid/gid, and (for symlinks) the link
// target, protected by a CRC32 over the fields following it. Clone is deep:
// LinkName is copied.
type AsiExtraField struct {
	Mode     uint16 // POSIX mode: type bits + permission bits
	UID      uint16
	GID      uint16
	LinkName string
}

func (f *AsiExtraField) HeaderID() uint16 { return idAsi }

func (f *AsiExtraField) payload() []byte {
	link := []byte(f.LinkName)
	body := make([]byte, 2+4+2+2+len(link))
	b := writeBuf(body)
	b.uint16(f.Mode)
	b.uint32(uint32(len(link)))
	b.uint16(f.UID)
	b.uint16(f.GID)
	copy(b, link)

	crc := crc32.ChecksumIEEE(body)
	out := make([]byte, 4+len(body))
	wb := writeBuf(out)
	wb.uint32(crc)
	copy(wb, body)
	return out
}

func (f *AsiExtraField) EncodeLocal() []byte   { return rawIDLen(idAsi, f.payload()) }
func (f *AsiExtraField) EncodeCentral() []byte { return rawIDLen(idAsi, f.payload()) }

// Clone returns a deep copy (LinkName, being variable-length, is copied by
// value already since Go strings are immutable, but the method exists to
// make the "clone is deep" invariant explicit at call sites).
func (f *AsiExtraField) Clone() *AsiExtraField {
	c := *f
	return &c
}

// IsDir reports the Asi directory mode bit (high bits 0040000).
func (f *AsiExtraField) IsDir() bool { return f.Mode&s_IFMT == s_IFDIR }

// IsSymlink reports the Asi symlink mode bit (high bits 0120000).
func (f *AsiExtraField) IsSymlink() bool { return f.Mode&s_IFMT == s_IFLNK }

func parseAsiExtra(_ uint16, _ bool, payload []byte) (ExtraField, error) {
	if len(payload) < 4 {
		return nil, newMalformed("asi extra field too short")
	}
	crcBuf := readBuf(payload[:4])
	storedCRC := crcBuf.uint32()
	body := payload[4:]
	actualCRC := crc32.ChecksumIEEE(body)
	if actualCRC != storedCRC {
		return nil, newBadCRC(storedCRC, actualCRC)
	}
	if len(body) < 10 {
		return nil, newMalformed("asi extra field body too short")
	}
	b := readBuf(body)
	mode := b.uint16()
	linkLen := b.uint32()
	uid := b.uint16()
	gid := b.uint16()
	if uint32(len(b)) < linkLen {
		return nil, newMalformed("asi extra field link name truncated")
	}
	link := string(b.sub(int(linkLen)))
	return &AsiExtraField{Mode: mode, UID: uid, GID: gid, LinkName: link}, nil
}

// ---- X7875 New-Unix (0x7875) ----

// NewUnixExtra carries 64-bit uid/gid with variable-width, minimum-length
// encoding. Each stored value is read as a plain unsigned little-endian
// integer of its declared width, with no value special-cased (e.g. 4 bytes
// FE FF FF FF -> 2^32-2, the encoding some writers use to avoid the
// 0xFFFFFFFF zip64-escape collision).
type NewUnixExtra struct {
	UID uint64
	GID uint64
}

func (f *NewUnixExtra) HeaderID() uint16 { return idNewUnix }

// trimmedLen returns the minimum number of bytes needed to hold v, with a
// floor of 1 (spec.md: "emits at least one byte per field").
func trimmedLen(v uint64) int {
	n := 1
	for v>>(8*uint(n)) != 0 {
		n++
	}
	return n
}

func (f *NewUnixExtra) payload() []byte {
	uidLen := trimmedLen(f.UID)
	gidLen := trimmedLen(f.GID)
	out := make([]byte, 1+1+uidLen+1+gidLen)
	out[0] = 1 // version
	out[1] = byte(uidLen)
	putLE(out[2:2+uidLen], f.UID)
	out[2+uidLen] = byte(gidLen)
	putLE(out[3+uidLen:3+uidLen+gidLen], f.GID)
	return out
}

func putLE(dst []byte, v uint64) {
	for i := range dst {
		dst[i] = byte(v >> (8 * uint(i)))
	}
}

func getLE(b []byte) uint64 {
	var v uint64
	for i, c := range b {
		v |= uint64(c) << (8 * uint(i))
	}
	return v
}

func (f *NewUnixExtra) EncodeLocal() []byte { return rawIDLen(idNewUnix, f.payload()) }

// EncodeCentral is empty: the New-Unix extra carries no central-directory
// variant (spec.md §4.5).
func (f *NewUnixExtra) EncodeCentral() []byte { return rawIDLen(idNewUnix, nil) }

func parseNewUnixExtra(_ uint16, isLocal bool, payload []byte) (ExtraField, error) {
	if !isLocal || len(payload) == 0 {
		return &NewUnixExtra{}, nil
	}
	b := readBuf(payload)
	_ = b.uint8() // version
	if len(b) < 1 {
		return nil, newMalformed("new-unix extra field truncated")
	}
	uidLen := int(b.uint8())
	if uidLen > 8 || len(b) < uidLen {
		return nil, newMalformed("new-unix extra field uid length out of range")
	}
	uid := getLE(b.sub(uidLen))
	if len(b) < 1 {
		return nil, newMalformed("new-unix extra field truncated")
	}
	gidLen := int(b.uint8())
	if gidLen > 8 || len(b) < gidLen {
		return nil, newMalformed("new-unix extra field gid length out of range")
	}
	gid := getLE(b.sub(gidLen))
	return &NewUnixExtra{UID: uid, GID: gid}, nil
}

// ---- X000A NTFS (0x000a) ----

// NTFSExtra carries up to three Windows FILETIME values (mtime/atime/ctime)
// as 100ns ticks since 1601-01-01.
type NTFSExtra struct {
	ModTime   *time.Time
	AccTime   *time.Time
	CreatTime *time.Time
}

func (f *NTFSExtra) HeaderID() uint16 { return idNTFS }

func (f *NTFSExtra) payload() []byte {
	var attr []byte
	add := func(t *time.Time) {
		if t == nil {
			return
		}
		var buf [8]byte
		wb := writeBuf(buf[:])
		wb.uint64(timeToNTFSTicks(*t))
		attr = append(attr, buf[:]...)
	}
	add(f.ModTime)
	add(f.AccTime)
	add(f.CreatTime)
	if len(attr) == 0 {
		return nil
	}
	out := make([]byte, 4+4+len(attr))
	b := writeBuf(out)
	b.uint32(0) // reserved
	b.uint16(1) // attribute tag 1: standard mtime/atime/ctime
	b.uint16(uint16(len(attr)))
	copy(b, attr)
	return out
}

func (f *NTFSExtra) EncodeLocal() []byte   { return rawIDLen(idNTFS, f.payload()) }
func (f *NTFSExtra) EncodeCentral() []byte { return rawIDLen(idNTFS, f.payload()) }

func parseNTFSExtra(_ uint16, _ bool, payload []byte) (ExtraField, error) {
	out := &NTFSExtra{}
	if len(payload) < 4 {
		return out, nil
	}
	b := readBuf(payload)
	b.uint32() // reserved
	for len(b) >= 4 {
		tag := b.uint16()
		size := int(b.uint16())
		if len(b) < size {
			break
		}
		attr := b.sub(size)
		if tag != 1 {
			continue
		}
		if len(attr) >= 8 {
			rb := readBuf(attr[:8])
			t := ntfsTicksToTime(rb.uint64())
			out.ModTime = &t
		}
		if len(attr) >= 16 {
			rb := readBuf(attr[8:16])
			t := ntfsTicksToTime(rb.uint64())
			out.AccTime = &t
		}
		if len(attr) >= 24 {
			rb := readBuf(attr[16:24])
			t := ntfsTicksToTime(rb.uint64())
			out.CreatTime = &t
		}
	}
	return out, nil
}

// ---- Info-ZIP extended timestamp (0x5455) ----

// ExtendedTimestampExtra carries timezone-agnostic Unix-epoch mod/access/
// create times, each gated by a flag bit. Local headers may carry all
// three; central directory headers, by convention, carry only ModTime.
type ExtendedTimestampExtra struct {
	ModTime *time.Time
	AccTime *time.Time
	CrTime  *time.Time
}

func (f *ExtendedTimestampExtra) HeaderID() uint16 { return idExtendedTime }

func (f *ExtendedTimestampExtra) encode(includeAccCr bool) []byte {
	var flags byte
	var times []byte
	addFlag := func(bit byte, t *time.Time) {
		if t == nil {
			return
		}
		flags |= bit
		if !includeAccCr && bit != 1 {
			return
		}
		var buf [4]byte
		wb := writeBuf(buf[:])
		wb.uint32(uint32(t.Unix()))
		times = append(times, buf[:]...)
	}
	addFlag(1, f.ModTime)
	addFlag(2, f.AccTime)
	addFlag(4, f.CrTime)
	out := make([]byte, 1+len(times))
	out[0] = flags
	copy(out[1:], times)
	return out
}

func (f *ExtendedTimestampExtra) EncodeLocal() []byte {
	return rawIDLen(idExtendedTime, f.encode(true))
}
func (f *ExtendedTimestampExtra) EncodeCentral() []byte {
	return rawIDLen(idExtendedTime, f.encode(false))
}

func parseExtendedTimeExtra(_ uint16, _ bool, payload []byte) (ExtraField, error) {
	out := &ExtendedTimestampExtra{}
	if len(payload) < 1 {
		return out, nil
	}
	b := readBuf(payload)
	flags := b.uint8()
	readTime := func() *time.Time {
		if len(b) < 4 {
			return nil
		}
		t := unixTimeToTime(b.uint32())
		return &t
	}
	if flags&1 != 0 {
		out.ModTime = readTime()
	}
	if flags&2 != 0 {
		out.AccTime = readTime()
	}
	if flags&4 != 0 {
		out.CrTime = readTime()
	}
	return out, nil
}

// ---- Info-ZIP Unicode path/comment (0x7075 / 0x6375) ----

// UnicodePathExtra overrides the archive-encoded name with a UTF-8 string,
// provided the stored CRC32 (computed over the archive-encoded original
// name) matches.
type UnicodePathExtra struct {
	NameCRC32 uint32
	Name      string // UTF-8
	valid     bool   // version == 1 and CRC verified against the accompanying name
}

func (f *UnicodePathExtra) HeaderID() uint16 { return idUnicodePath }
func (f *UnicodePathExtra) Valid() bool      { return f.valid }

func (f *UnicodePathExtra) payload() []byte {
	name := []byte(f.Name)
	out := make([]byte, 5+len(name))
	out[0] = 1
	wb := writeBuf(out[1:5])
	wb.uint32(f.NameCRC32)
	copy(out[5:], name)
	return out
}
func (f *UnicodePathExtra) EncodeLocal() []byte   { return rawIDLen(idUnicodePath, f.payload()) }
func (f *UnicodePathExtra) EncodeCentral() []byte { return rawIDLen(idUnicodePath, f.payload()) }

func parseUnicodePathExtra(_ uint16, _ bool, payload []byte) (ExtraField, error) {
	return parseUnicodeExtra(idUnicodePath, payload)
}

// UnicodeCommentExtra is the comment analogue of UnicodePathExtra.
type UnicodeCommentExtra struct {
	CommentCRC32 uint32
	Comment      string
	valid        bool
}

func (f *UnicodeCommentExtra) HeaderID() uint16 { return idUnicodeComment }
func (f *UnicodeCommentExtra) Valid() bool      { return f.valid }

func (f *UnicodeCommentExtra) payload() []byte {
	c := []byte(f.Comment)
	out := make([]byte, 5+len(c))
	out[0] = 1
	wb := writeBuf(out[1:5])
	wb.uint32(f.CommentCRC32)
	copy(out[5:], c)
	return out
}
func (f *UnicodeCommentExtra) EncodeLocal() []byte   { return rawIDLen(idUnicodeComment, f.payload()) }
func (f *UnicodeCommentExtra) EncodeCentral() []byte { return rawIDLen(idUnicodeComment, f.payload()) }

func parseUnicodeCommentExtra(_ uint16, _ bool, payload []byte) (ExtraField, error) {
	f, err := parseUnicodeExtra(idUnicodeComment, payload)
	if err != nil {
		return nil, err
	}
	u := f.(*UnicodePathExtra)
	return &UnicodeCommentExtra{CommentCRC32: u.NameCRC32, Comment: u.Name, valid: u.valid}, nil
}

// parseUnicodeExtra implements the shared 0x7075/0x6375 layout: version(1)
// || crc32(4) || utf8-bytes. version != 1 makes the field inert (valid=false)
// so callers fall back to archive-encoded text, per spec.md §4.5.
func parseUnicodeExtra(_ uint16, payload []byte) (ExtraField, error) {
	if len(payload) < 5 {
		return nil, newMalformed("unicode extra field too short")
	}
	version := payload[0]
	crcBuf := readBuf(payload[1:5])
	crc := crcBuf.uint32()
	name := string(payload[5:])
	return &UnicodePathExtra{NameCRC32: crc, Name: name, valid: version == 1}, nil
}

// VerifyUnicodeName checks the CRC32 of rawName (the archive-encoded bytes
// of the entry's name) against the extra field's stored CRC, per spec.md
// §4.5: the UTF-8 name only overrides the archive-encoded one when this
// matches and the field parsed as version 1.
func (f *UnicodePathExtra) VerifyUnicodeName(rawName []byte) bool {
	return f.valid && crc32.ChecksumIEEE(rawName) == f.NameCRC32
}

// VerifyUnicodeComment is the comment analogue of VerifyUnicodeName.
func (f *UnicodeCommentExtra) VerifyUnicodeComment(rawComment []byte) bool {
	return f.valid && crc32.ChecksumIEEE(rawComment) == f.CommentCRC32
}
