package zipkit

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sort"
)

// maxEOCDSearch is the largest span at the end of the archive the EOCD
// back-scan considers: the fixed 22-byte record plus the maximum possible
// comment length.
const maxEOCDSearch = eocdFixedLen + 0xffff

// RandomAccessReader parses an existing archive's central directory once,
// up front, and thereafter serves entries() and input_stream() against
// arbitrary offsets via ReaderAt - the mode a seekable file or an HTTP
// range-capable remote object supports (spec.md §4.13).
type RandomAccessReader struct {
	ra   ReaderAt
	size int64

	entries []*Entry
	byName  map[string][]*Entry // names may legitimately repeat in ZIP

	registry    *ExtraFieldRegistry
	compressors *CompressorRegistry
	defaultEnc  ZipEncoding
	policy      UnparseablePolicy

	ignoreLocalHeader bool

	comment []byte
}

// RandomAccessOption configures OpenRandomAccessReader.
type RandomAccessOption func(*RandomAccessReader)

// WithRandomAccessExtraFieldRegistry overrides the default extra registry.
func WithRandomAccessExtraFieldRegistry(reg *ExtraFieldRegistry) RandomAccessOption {
	return func(r *RandomAccessReader) { r.registry = reg }
}

// WithRandomAccessCompressorRegistry overrides the default compressor registry.
func WithRandomAccessCompressorRegistry(reg *CompressorRegistry) RandomAccessOption {
	return func(r *RandomAccessReader) { r.compressors = reg }
}

// WithRandomAccessDefaultEncoding overrides the default name/comment encoding.
func WithRandomAccessDefaultEncoding(enc ZipEncoding) RandomAccessOption {
	return func(r *RandomAccessReader) { r.defaultEnc = enc }
}

// IgnoreLocalFileHeader makes input_stream/raw_input_stream skip the check
// that the local file header's method matches the central directory's -
// useful against archives whose local headers are known to lag their
// central directory. Sizes and CRC32 come from the central directory in
// either mode; the local header's copies are never checked. The local
// header is still consulted to locate the start of entry data, since its
// name and extra field lengths are the only way to compute that offset;
// RawInputStream therefore always returns a valid stream in this mode,
// never nil, per the spec's resolution of this otherwise-open question.
func IgnoreLocalFileHeader() RandomAccessOption {
	return func(r *RandomAccessReader) { r.ignoreLocalHeader = true }
}

// OpenRandomAccessReader parses the archive's end-of-central-directory
// record (and, if present, its Zip64 counterpart) and then the whole
// central directory, building the Entry list.
func OpenRandomAccessReader(ctx context.Context, ra ReaderAt, size int64, opts ...RandomAccessOption) (*RandomAccessReader, error) {
	r := &RandomAccessReader{
		ra:          ra,
		size:        size,
		registry:    DefaultRegistry(),
		compressors: DefaultCompressorRegistry(),
		defaultEnc:  DefaultEncoding,
		policy:      PolicyRead,
		byName:      make(map[string][]*Entry),
	}
	for _, o := range opts {
		o(r)
	}

	eocdOffset, eocd, err := r.findEOCD(ctx)
	if err != nil {
		return nil, err
	}
	r.comment = eocd.Comment

	cdOffset := uint64(eocd.CentralDirOffset)
	cdSize := uint64(eocd.CentralDirSize)
	cdCount := uint64(eocd.EntriesTotal)

	if eocd.EntriesTotal == 0xffff || eocd.CentralDirSize == 0xffffffff || eocd.CentralDirOffset == 0xffffffff {
		locOffset := eocdOffset - zip64EOCDLocatorLen
		if locOffset < 0 {
			return nil, newMalformed("zip64 EOCD locator expected before end of central directory but archive is too short")
		}
		locBuf := make([]byte, zip64EOCDLocatorLen)
		if _, err := readFullAt(ctx, r.ra, locBuf, locOffset); err != nil {
			return nil, newTruncated()
		}
		loc, err := ParseZip64EOCDLocator(bytes.NewReader(locBuf))
		if err != nil {
			return nil, err
		}
		recBuf := make([]byte, zip64EOCDRecordFixedLen)
		if _, err := readFullAt(ctx, r.ra, recBuf, int64(loc.EOCDOffset)); err != nil {
			return nil, newTruncated()
		}
		rec, err := ParseZip64EOCDRecord(io.MultiReader(bytes.NewReader(recBuf), &sectionAt{ctx: ctx, ra: r.ra, off: int64(loc.EOCDOffset) + zip64EOCDRecordFixedLen}))
		if err != nil {
			return nil, err
		}
		cdOffset = rec.CentralDirOffset
		cdSize = rec.CentralDirSize
		cdCount = rec.EntriesTotal
	}

	if err := r.readCentralDirectory(ctx, cdOffset, cdSize, cdCount); err != nil {
		return nil, err
	}
	return r, nil
}

// sectionAt adapts a ReaderAt range starting at off into an io.Reader,
// used when a parse routine needs to keep reading past a fixed-size
// buffer already read (e.g. the Zip64 EOCD record's extensible data).
type sectionAt struct {
	ctx context.Context
	ra  ReaderAt
	off int64
}

func (s *sectionAt) Read(p []byte) (int, error) {
	n, err := s.ra.ReadAtContext(s.ctx, p, s.off)
	s.off += int64(n)
	return n, err
}

func readFullAt(ctx context.Context, ra ReaderAt, buf []byte, off int64) (int, error) {
	n, err := ra.ReadAtContext(ctx, buf, off)
	if err != nil && err != io.EOF {
		return n, err
	}
	if n < len(buf) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// findEOCD reads the trailing maxEOCDSearch bytes of the archive and
// scans backward for the end-of-central-directory signature, verifying
// that the comment length field is consistent with where the signature
// was found (the same defense stdlib archive/zip uses against a spurious
// signature occurring inside a comment).
func (r *RandomAccessReader) findEOCD(ctx context.Context) (int64, *EOCDRecord, error) {
	searchLen := int64(maxEOCDSearch)
	if searchLen > r.size {
		searchLen = r.size
	}
	if searchLen < eocdFixedLen {
		return 0, nil, newMalformed("archive too short to contain an end of central directory record")
	}
	start := r.size - searchLen
	buf := make([]byte, searchLen)
	if _, err := readFullAt(ctx, r.ra, buf, start); err != nil {
		return 0, nil, newTruncated()
	}

	for i := len(buf) - eocdFixedLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:i+4]) != sigEOCDRecord {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(buf[i+20 : i+22]))
		if i+eocdFixedLen+commentLen != len(buf) {
			continue
		}
		eocd, err := ParseEOCD(bytes.NewReader(buf[i:]))
		if err != nil {
			continue
		}
		return start + int64(i), eocd, nil
	}
	return 0, nil, newMalformed("No end of central directory record found")
}

func (r *RandomAccessReader) readCentralDirectory(ctx context.Context, offset, size, count uint64) error {
	if offset > uint64(r.size) || size > uint64(r.size)-offset {
		return newMalformed("central directory (offset %d, size %d) extends past the end of the %d-byte archive", offset, size, r.size)
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := readFullAt(ctx, r.ra, buf, int64(offset)); err != nil {
			return newTruncated()
		}
	}
	br := bytes.NewReader(buf)
	r.entries = make([]*Entry, 0, count)
	for br.Len() > 0 {
		cdh, err := ParseCentralDirectoryHeader(br)
		if err != nil {
			return err
		}
		e, err := entryFromCentralDirectoryHeader(cdh, r.registry, r.policy, r.defaultEnc)
		if err != nil {
			return err
		}
		if e.LocalHeaderOffset >= uint64(r.size) {
			return newMalformed("entry %q: local header offset %d beyond the end of the %d-byte archive", e.Name, e.LocalHeaderOffset, r.size)
		}
		r.entries = append(r.entries, e)
		r.byName[e.Name] = append(r.byName[e.Name], e)
	}
	if uint64(len(r.entries)) != count {
		return newMalformed("central directory holds %d records but the end record declares %d", len(r.entries), count)
	}
	return nil
}

// Entries returns every entry in central directory order. The returned
// slice and its Entry values must not be mutated.
func (r *RandomAccessReader) Entries() []*Entry { return r.entries }

// EntriesInPhysicalOrder returns every entry sorted by local header
// offset, the order their data is laid out in the archive.
func (r *RandomAccessReader) EntriesInPhysicalOrder() []*Entry {
	out := append([]*Entry(nil), r.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LocalHeaderOffset < out[j].LocalHeaderOffset
	})
	return out
}

// Entry returns the first entry with the given name in central directory
// order, or nil if there is none.
func (r *RandomAccessReader) Entry(name string) *Entry {
	es := r.byName[name]
	if len(es) == 0 {
		return nil
	}
	return es[0]
}

// EntriesByName returns every entry with the given name, in central
// directory order.
func (r *RandomAccessReader) EntriesByName(name string) []*Entry {
	return append([]*Entry(nil), r.byName[name]...)
}

// Comment returns the archive-level comment from the end of central
// directory record.
func (r *RandomAccessReader) Comment() []byte { return r.comment }

// CanReadEntryData reports whether InputStream can decode e: false when
// e's method has no registered decoder or e is encrypted.
func (r *RandomAccessReader) CanReadEntryData(e *Entry) bool {
	return !e.GPBFlag.IsEncrypted() && r.compressors.CanDecode(e.Method)
}

// dataOffset locates the start of e's raw (compressed) bytes by reading
// its local file header. Unless IgnoreLocalFileHeader is set, the header's
// method is checked against the central directory's; its size and CRC
// fields are never checked. The header is read in both modes since its
// name and extra
// field lengths are the only way to compute where data begins.
func (r *RandomAccessReader) dataOffset(ctx context.Context, e *Entry) (int64, error) {
	lfh, err := ParseLocalFileHeader(&sectionAt{ctx: ctx, ra: r.ra, off: int64(e.LocalHeaderOffset)})
	if err != nil {
		return 0, err
	}
	if !r.ignoreLocalHeader {
		if lfh.Method != e.Method {
			return 0, newMalformed("local file header method %d does not match central directory method %d for %q", lfh.Method, e.Method, e.Name)
		}
	}
	dataStart := int64(e.LocalHeaderOffset) + localFileHeaderFixedLen + int64(lfh.NameLen) + int64(lfh.ExtraLen)
	return dataStart, nil
}

// RawInputStream returns a reader over e's raw, still-compressed bytes.
// Always returns a non-nil stream when err is nil, including under
// IgnoreLocalFileHeader.
func (r *RandomAccessReader) RawInputStream(ctx context.Context, e *Entry) (io.Reader, error) {
	off, err := r.dataOffset(ctx, e)
	if err != nil {
		return nil, err
	}
	return &sectionReaderAt{ctx: ctx, ra: r.ra, off: off, n: int64(e.CompressedSize)}, nil
}

// InputStream returns a reader over e's decompressed bytes. Returns
// UnsupportedFeatureError if e's method has no registered decoder.
func (r *RandomAccessReader) InputStream(ctx context.Context, e *Entry) (io.ReadCloser, error) {
	if e.GPBFlag.IsEncrypted() {
		return nil, &UnsupportedFeatureError{Kind: FeatureEncryption}
	}
	raw, err := r.RawInputStream(ctx, e)
	if err != nil {
		return nil, err
	}
	return decoderFor(r.compressors, e, raw)
}

// sectionReaderAt is io.SectionReader restricted to the ReaderAt
// interface's context-aware variant.
type sectionReaderAt struct {
	ctx context.Context
	ra  ReaderAt
	off int64
	n   int64
	pos int64
}

func (s *sectionReaderAt) Read(p []byte) (int, error) {
	if s.pos >= s.n {
		return 0, io.EOF
	}
	remaining := s.n - s.pos
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	read, err := s.ra.ReadAtContext(s.ctx, p, s.off+s.pos)
	s.pos += int64(read)
	return read, err
}
