package zipkit

import (
	"os"
	"path"
	"time"
)

// Entry describes one file or directory within a ZIP archive: the decoded
// view of a central directory header (or, in streaming mode, a local file
// header) plus its parsed extra fields. Per spec.md §3, an Entry is
// immutable once returned by a reader; callers that want to change a field
// must build a new Entry (RandomAccessReader and StreamingWriter do this
// internally when copying entries between archives).
type Entry struct {
	Name    string
	Comment string

	CreatorVersion uint16
	ReaderVersion  uint16
	GPBFlag        GeneralPurposeBit
	Method         uint16

	Modified time.Time
	CRC32    uint32

	CompressedSize   uint64
	UncompressedSize uint64
	ExternalAttrs    uint32
	LocalHeaderOffset uint64
	DiskStart         uint32

	Extra      []ExtraField
	RawExtra   []byte // bytes as they appeared on the wire, for round-tripping
	RawComment []byte
	RawName    []byte

	encoding ZipEncoding
}

// IsDir reports whether the entry represents a directory, per the
// trailing-slash-in-name convention every ZIP implementation uses since
// there is no dedicated directory flag.
func (e *Entry) IsDir() bool {
	return len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/'
}

// BaseName returns the final path component of Name, as os.FileInfo.Name
// would.
func (e *Entry) BaseName() string { return path.Base(e.Name) }

// Mode derives the os.FileMode this entry's creator platform and external
// attributes describe, per spec.md §3 (itself adapted from archive/zip's
// FileHeader.Mode).
func (e *Entry) Mode() os.FileMode {
	var mode os.FileMode
	switch e.CreatorVersion >> 8 {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(e.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(e.ExternalAttrs)
	}
	if e.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

const (
	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

func msdosModeToFileMode(m uint32) os.FileMode {
	var mode os.FileMode
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = s_IFREG
	case os.ModeDir:
		m = s_IFDIR
	case os.ModeSymlink:
		m = s_IFLNK
	case os.ModeNamedPipe:
		m = s_IFIFO
	case os.ModeSocket:
		m = s_IFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = s_IFCHR
		} else {
			m = s_IFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= s_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= s_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= s_ISVTX
	}
	return m | uint32(mode&0777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & s_IFMT {
	case s_IFBLK:
		mode |= os.ModeDevice
	case s_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case s_IFDIR:
		mode |= os.ModeDir
	case s_IFIFO:
		mode |= os.ModeNamedPipe
	case s_IFLNK:
		mode |= os.ModeSymlink
	case s_IFSOCK:
		mode |= os.ModeSocket
	}
	if m&s_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&s_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&s_ISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// SetMode updates CreatorVersion/ExternalAttrs the way a writer does when
// given an os.FileMode, mirroring both the Unix bits (for CreatorVersion
// unix) and the MS-DOS readonly/directory bits every reader checks as a
// fallback.
func (e *Entry) SetMode(mode os.FileMode) {
	e.CreatorVersion = e.CreatorVersion&0xff | creatorUnix<<8
	e.ExternalAttrs = fileModeToUnixMode(mode) << 16
	if mode&os.ModeDir != 0 {
		e.ExternalAttrs |= msdosDir
	}
	if mode&0200 == 0 {
		e.ExternalAttrs |= msdosReadOnly
	}
}

// NeedsZip64 reports whether this entry's sizes or offset already exceed
// the plain 32-bit header fields, per spec.md §3's Zip64 threshold rule.
func (e *Entry) NeedsZip64() bool {
	return e.CompressedSize >= uint32max || e.UncompressedSize >= uint32max || e.LocalHeaderOffset >= uint32max
}

const uint32max = 1<<32 - 1

// zip64Extra searches Extra for a parsed Zip64Extra, returning nil if
// there is none (an entry under the 32-bit thresholds legitimately has
// none).
func (e *Entry) zip64Extra() *Zip64Extra {
	for _, f := range e.Extra {
		if z, ok := f.(*Zip64Extra); ok {
			return z
		}
	}
	return nil
}

// maskedZip64Extra re-parses the raw Zip64 payload inside an undecoded
// extra block against the saturation mask of the surrounding header, the
// only way to attribute the 8-byte slots to the right fields. Returns
// (nil, nil) when no field is saturated.
func maskedZip64Extra(extra []byte, needUncomp, needComp, needOffset, needDisk bool) (*Zip64Extra, error) {
	if !needUncomp && !needComp && !needOffset && !needDisk {
		return nil, nil
	}
	payload, ok := rawZip64Payload(extra)
	if !ok {
		return nil, newMalformed("zip64 sizes indicated but no zip64 extra field present")
	}
	return ParseZip64Extra(payload, needUncomp, needComp, needOffset, needDisk)
}

// entryFromCentralDirectoryHeader builds an Entry from a parsed
// CentralDirectoryHeader, resolving its Zip64 extra (if any) and decoding
// its name/comment with the encoding selectEncoding picks from GPB bit 11
// and archiveDefault.
func entryFromCentralDirectoryHeader(h *CentralDirectoryHeader, registry *ExtraFieldRegistry, policy UnparseablePolicy, archiveDefault ZipEncoding) (*Entry, error) {
	fields, err := registry.Parse(h.ExtraBytes, false, policy)
	if err != nil {
		return nil, err
	}
	e := &Entry{
		CreatorVersion:    h.CreatorVersion,
		ReaderVersion:     h.ReaderVersion,
		GPBFlag:           h.GPBFlag,
		Method:            h.Method,
		CRC32:             h.CRC32,
		ExternalAttrs:     h.ExternalAttrs,
		Extra:             fields,
		RawExtra:          h.ExtraBytes,
		RawComment:        h.CommentBytes,
		RawName:           h.NameBytes,
	}
	e.encoding = selectEncoding(h.GPBFlag, archiveDefault)
	e.Name = e.encoding.Decode(h.NameBytes)
	e.Comment = e.encoding.Decode(h.CommentBytes)

	z64, err := maskedZip64Extra(h.ExtraBytes,
		saturated32(h.UncompressedSize), saturated32(h.CompressedSize),
		saturated32(h.LocalHeaderOffset), h.DiskStart == 0xffff)
	if err != nil {
		return nil, err
	}
	compSize, uncompSize, offset, disk, err := ResolveSizes(
		h.CompressedSize, h.UncompressedSize, h.LocalHeaderOffset, h.DiskStart, z64)
	if err != nil {
		return nil, err
	}
	e.CompressedSize = compSize
	e.UncompressedSize = uncompSize
	e.LocalHeaderOffset = offset
	e.DiskStart = disk
	e.Modified = resolveModTime(h.ModDate, h.ModTime, fields)
	return e, nil
}

// resolveModTime prefers an NTFS or extended-timestamp extra field's
// modification time (both timezone-unambiguous) over the legacy DOS
// date/time pair, which is not.
func resolveModTime(dosDate, dosTime uint16, fields []ExtraField) time.Time {
	for _, f := range fields {
		if nt, ok := f.(*NTFSExtra); ok && nt.ModTime != nil {
			return *nt.ModTime
		}
	}
	for _, f := range fields {
		if et, ok := f.(*ExtendedTimestampExtra); ok && et.ModTime != nil {
			return *et.ModTime
		}
	}
	return msDosTimeToTime(dosDate, dosTime)
}
