package zipkit

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
)

// StreamingReaderState names the states of the sequential-entry state
// machine (spec.md §4.12).
type StreamingReaderState int

const (
	StateBeforeFirstEntry StreamingReaderState = iota
	StateInEntry
	StateBetweenEntries
	StateAtArchiveEnd
	StateTruncated
	StateFatal
)

// StreamingReader walks a ZIP archive forward, entry by entry, driven
// entirely by local file headers - the mode needed when the underlying
// stream isn't seekable (a network socket, a pipe, an HTTP body).
type StreamingReader struct {
	br          *bufio.Reader
	registry    *ExtraFieldRegistry
	compressors *CompressorRegistry
	defaultEnc  ZipEncoding
	policy      UnparseablePolicy

	state   StreamingReaderState
	err     error
	current *Entry
	body    io.Reader      // decompressing reader for the entry in progress
	bounded *boundedReader // non-nil when the entry's compressed extent is known
	bodyCRC uint32         // CRC32 of the decompressed bytes delivered so far

	comment []byte
}

// StreamingReaderOption configures a StreamingReader at construction.
type StreamingReaderOption func(*StreamingReader)

// WithExtraFieldRegistry overrides the default extra field registry.
func WithExtraFieldRegistry(reg *ExtraFieldRegistry) StreamingReaderOption {
	return func(r *StreamingReader) { r.registry = reg }
}

// WithCompressorRegistry overrides the default compression method registry.
func WithCompressorRegistry(reg *CompressorRegistry) StreamingReaderOption {
	return func(r *StreamingReader) { r.compressors = reg }
}

// WithDefaultEncoding overrides the name/comment encoding used when GPB
// bit 11 (UTF-8) is clear. Defaults to CP437Encoding.
func WithDefaultEncoding(enc ZipEncoding) StreamingReaderOption {
	return func(r *StreamingReader) { r.defaultEnc = enc }
}

// WithUnparseablePolicy sets how malformed extra field blocks are handled.
// Defaults to PolicyRead.
func WithUnparseablePolicy(p UnparseablePolicy) StreamingReaderOption {
	return func(r *StreamingReader) { r.policy = p }
}

// NewStreamingReader wraps r for sequential entry-by-entry reading.
func NewStreamingReader(r io.Reader, opts ...StreamingReaderOption) *StreamingReader {
	sr := &StreamingReader{
		br:          bufio.NewReader(r),
		registry:    DefaultRegistry(),
		compressors: DefaultCompressorRegistry(),
		defaultEnc:  DefaultEncoding,
		policy:      PolicyRead,
		state:       StateBeforeFirstEntry,
	}
	for _, o := range opts {
		o(sr)
	}
	return sr
}

// State returns the reader's current state.
func (r *StreamingReader) State() StreamingReaderState { return r.state }

// Comment returns the archive comment, available once the central
// directory has been consumed (the reader reached StateAtArchiveEnd).
func (r *StreamingReader) Comment() []byte { return r.comment }

// Next advances to the next entry, returning its header view. If the
// current entry still has unread payload bytes, they are skipped and
// discarded first. At the end of the archive (after consuming the central
// directory and EOCD) it returns (nil, io.EOF). An entry whose method has
// no registered decoder, or that is encrypted, is returned together with
// an *UnsupportedFeatureError; the reader has already advanced past its
// payload, so the caller may keep iterating. Any other error moves the
// reader to StateFatal or StateTruncated and is returned again verbatim
// on every subsequent call.
func (r *StreamingReader) Next() (*Entry, error) {
	if r.state == StateInEntry {
		if _, err := io.Copy(io.Discard, onlyReader{r}); err != nil {
			return nil, r.err
		}
	}
	if r.state != StateBeforeFirstEntry && r.state != StateBetweenEntries {
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrIllegalState
	}

	sig, err := r.peekSignature()
	if err != nil {
		return nil, err
	}
	if r.state == StateBeforeFirstEntry && sig == sigDataDescriptor {
		// The first volume of a split archive starts with the lone
		// "end of first volume" marker; skip it and read the local file
		// header that follows.
		r.br.Discard(4)
		if sig, err = r.peekSignature(); err != nil {
			return nil, err
		}
	}

	switch sig {
	case sigLocalFileHeader:
		return r.readNextLocalEntry()
	case sigCentralDirHeader, sigEOCDRecord:
		if err := r.drainCentralDirectory(); err != nil {
			r.fail(err)
			return nil, r.err
		}
		r.state = StateAtArchiveEnd
		return nil, io.EOF
	default:
		r.fail(newMalformed("streaming reader: unexpected signature %08x where a local file header or central directory was expected", sig))
		return nil, r.err
	}
}

// onlyReader hides every method of StreamingReader except Read, so
// io.Copy cannot shortcut through a WriteTo/ReadFrom pairing.
type onlyReader struct{ r *StreamingReader }

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }

// peekSignature looks at the next 4 bytes without consuming them. A clean
// end of input maps to (AtArchiveEnd, io.EOF); a ragged one to Truncated.
func (r *StreamingReader) peekSignature() (uint32, error) {
	sigBytes, err := r.br.Peek(4)
	if err != nil {
		if len(sigBytes) == 0 {
			r.state = StateAtArchiveEnd
			return 0, io.EOF
		}
		r.fail(newTruncated())
		return 0, r.err
	}
	return binary.LittleEndian.Uint32(sigBytes), nil
}

// drainCentralDirectory consumes the central directory records, the
// optional Zip64 EOCD record and locator, and the EOCD record, capturing
// the archive comment along the way.
func (r *StreamingReader) drainCentralDirectory() error {
	for {
		sigBytes, err := r.br.Peek(4)
		if err != nil {
			if len(sigBytes) == 0 {
				return nil // EOCD genuinely absent; still a clean boundary
			}
			return newTruncated()
		}
		switch binary.LittleEndian.Uint32(sigBytes) {
		case sigCentralDirHeader:
			if _, err := ParseCentralDirectoryHeader(r.br); err != nil {
				return err
			}
		case sigZip64EOCDRecord:
			if _, err := ParseZip64EOCDRecord(r.br); err != nil {
				return err
			}
		case sigZip64EOCDLocator:
			if _, err := ParseZip64EOCDLocator(r.br); err != nil {
				return err
			}
		case sigEOCDRecord:
			eocd, err := ParseEOCD(r.br)
			if err != nil {
				return err
			}
			r.comment = eocd.Comment
			return nil
		default:
			return newMalformed("streaming reader: unexpected signature %08x inside central directory", binary.LittleEndian.Uint32(sigBytes))
		}
	}
}

func (r *StreamingReader) readNextLocalEntry() (*Entry, error) {
	lfh, err := ParseLocalFileHeader(r.br)
	if err != nil {
		r.fail(err)
		return nil, r.err
	}
	fields, err := r.registry.Parse(lfh.ExtraBytes, true, r.policy)
	if err != nil {
		r.fail(err)
		return nil, r.err
	}
	enc := selectEncoding(lfh.GPBFlag, r.defaultEnc)

	e := &Entry{
		ReaderVersion: lfh.ReaderVersion,
		GPBFlag:       lfh.GPBFlag,
		Method:        lfh.Method,
		CRC32:         lfh.CRC32,
		RawExtra:      lfh.ExtraBytes,
		RawName:       lfh.NameBytes,
		Extra:         fields,
		encoding:      enc,
	}
	e.Name = enc.Decode(lfh.NameBytes)
	e.Modified = resolveModTime(lfh.ModDate, lfh.ModTime, fields)

	hasDD := lfh.GPBFlag.HasDataDescriptor()
	z64, sizeErr := maskedZip64Extra(lfh.ExtraBytes,
		saturated32(lfh.UncompressedSize), saturated32(lfh.CompressedSize), false, false)
	var compSize, uncompSize uint64
	if sizeErr == nil {
		compSize, uncompSize, _, _, sizeErr = ResolveSizes(lfh.CompressedSize, lfh.UncompressedSize, 0, 0, z64)
	}
	if sizeErr != nil && !hasDD {
		r.fail(sizeErr)
		return nil, r.err
	}
	e.CompressedSize = compSize
	e.UncompressedSize = uncompSize

	if lfh.GPBFlag.IsEncrypted() {
		if err := r.skipPayload(e, hasDD); err != nil {
			return nil, err
		}
		r.setSkippedEntry(e)
		return e, &UnsupportedFeatureError{Kind: FeatureEncryption}
	}
	if !r.compressors.CanDecode(e.Method) {
		if err := r.skipPayload(e, hasDD); err != nil {
			return nil, err
		}
		r.setSkippedEntry(e)
		return e, &UnsupportedFeatureError{Kind: FeatureMethod, Method: e.Method}
	}

	r.current = e
	r.bodyCRC = 0
	r.bounded = nil
	var raw io.Reader
	switch {
	case !hasDD:
		r.bounded = &boundedReader{br: r.br, n: int64(e.CompressedSize)}
		raw = r.bounded
	case e.Method == MethodStore:
		raw = newStoredDescriptorScanner(r.br, e)
	default:
		raw = byteReaderPassthrough{r.br}
	}
	body, err := decoderFor(r.compressors, e, raw)
	if err != nil {
		r.fail(err)
		return nil, r.err
	}
	r.body = body
	r.state = StateInEntry
	return e, nil
}

func (r *StreamingReader) setSkippedEntry(e *Entry) {
	r.current = e
	r.body = nil
	r.bounded = nil
	r.state = StateBetweenEntries
}

// skipPayload advances past an entry whose data the reader will not hand
// out (unsupported method, encryption), using the declared compressed
// size; an unknown size (data descriptor) cannot be skipped and fails
// with Truncated, per spec.md §7.
func (r *StreamingReader) skipPayload(e *Entry, hasDD bool) error {
	if hasDD {
		r.fail(newTruncated())
		return r.err
	}
	if _, err := io.CopyN(io.Discard, r.br, int64(e.CompressedSize)); err != nil {
		r.fail(newTruncated())
		return r.err
	}
	return nil
}

// boundedReader limits reads to the entry's declared compressed extent
// and remembers how much of it was actually consumed, so finishEntry can
// discard any tail a decompressor's internal buffering left behind.
type boundedReader struct {
	br *bufio.Reader
	n  int64 // remaining
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.n {
		p = p[:b.n]
	}
	n, err := b.br.Read(p)
	b.n -= int64(n)
	if err == io.EOF && b.n > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// byteReaderPassthrough exposes the underlying bufio.Reader's ReadByte to
// the decompressor. A decoder that consumes its input byte by byte (like
// flate given an io.ByteReader) stops exactly at the end of the deflate
// stream, leaving the trailing data descriptor unread in the buffer.
type byteReaderPassthrough struct{ br *bufio.Reader }

func (b byteReaderPassthrough) Read(p []byte) (int, error) { return b.br.Read(p) }
func (b byteReaderPassthrough) ReadByte() (byte, error)    { return b.br.ReadByte() }

// storedDescriptorScanner implements the Store+data-descriptor read-ahead
// (spec.md §4.12): a stored entry's bytes are not self-delimiting, so the
// scanner releases output one byte at a time, stopping at the first data
// descriptor signature that is followed by a CRC/size/size triple
// consistent with the bytes released so far.
type storedDescriptorScanner struct {
	br    *bufio.Reader
	entry *Entry
	crc   uint32
	n     uint64
	done  bool
	err   error
}

func newStoredDescriptorScanner(br *bufio.Reader, e *Entry) *storedDescriptorScanner {
	return &storedDescriptorScanner{br: br, entry: e}
}

func (s *storedDescriptorScanner) Read(p []byte) (int, error) {
	if s.done {
		return 0, s.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	peek, _ := s.br.Peek(dataDescriptorLen32)
	if len(peek) >= dataDescriptorLen32 && binary.LittleEndian.Uint32(peek[:4]) == sigDataDescriptor {
		crc := binary.LittleEndian.Uint32(peek[4:8])
		compSize := binary.LittleEndian.Uint32(peek[8:12])
		uncompSize := binary.LittleEndian.Uint32(peek[12:16])
		if crc == s.crc && uint64(compSize) == s.n && uint64(uncompSize) == s.n {
			s.br.Discard(dataDescriptorLen32)
			s.entry.CRC32 = crc
			s.entry.CompressedSize = uint64(compSize)
			s.entry.UncompressedSize = uint64(uncompSize)
			s.done = true
			s.err = io.EOF
			return 0, io.EOF
		}
	}
	b, err := s.br.ReadByte()
	if err != nil {
		s.done = true
		s.err = newTruncated()
		return 0, s.err
	}
	p[0] = b
	s.crc = crc32.Update(s.crc, crc32.IEEETable, p[:1])
	s.n++
	return 1, nil
}

// Read implements io.Reader over the current entry's decompressed data.
// After the last payload byte it consumes the trailing data descriptor
// (when one is present), verifies the entry's CRC32, and returns io.EOF.
func (r *StreamingReader) Read(p []byte) (int, error) {
	switch r.state {
	case StateInEntry:
	case StateBetweenEntries, StateAtArchiveEnd:
		return 0, io.EOF
	default:
		if r.err != nil {
			return 0, r.err
		}
		return 0, ErrIllegalState
	}
	n, err := r.body.Read(p)
	if n > 0 {
		r.bodyCRC = crc32.Update(r.bodyCRC, crc32.IEEETable, p[:n])
	}
	if err == io.EOF {
		if ferr := r.finishEntry(); ferr != nil {
			return n, r.err
		}
		r.state = StateBetweenEntries
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			err = newTruncated()
		}
		r.fail(err)
		return n, r.err
	}
	return n, nil
}

// finishEntry runs once the decompressor signals end-of-stream: it skips
// any undecoded tail of a bounded payload, consumes the data descriptor
// for entries that carry one, and checks the payload CRC32.
func (r *StreamingReader) finishEntry() error {
	e := r.current
	if r.bounded != nil && r.bounded.n > 0 {
		if _, err := r.br.Discard(int(r.bounded.n)); err != nil {
			r.fail(newTruncated())
			return r.err
		}
		r.bounded.n = 0
	}
	if e.GPBFlag.HasDataDescriptor() && e.Method != MethodStore {
		dd, err := ParseDataDescriptor(r.br, e.zip64Extra() != nil, false)
		if err != nil {
			r.fail(err)
			return r.err
		}
		e.CRC32 = dd.CRC32
		e.CompressedSize = dd.CompressedSize
		e.UncompressedSize = dd.UncompressedSize
	}
	if e.CRC32 != r.bodyCRC {
		r.fail(newBadCRC(e.CRC32, r.bodyCRC))
		return r.err
	}
	return nil
}

func (r *StreamingReader) fail(err error) {
	if _, ok := err.(*TruncatedError); ok {
		r.state = StateTruncated
	} else {
		r.state = StateFatal
	}
	r.err = err
}
