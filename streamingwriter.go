package zipkit

import (
	"hash/crc32"
	"io"
	"time"
)

// Zip64Policy controls when a StreamingWriter is willing to emit Zip64
// extensions for an entry.
type Zip64Policy int

const (
	// Zip64AsNeeded emits Zip64 fields only for entries whose size or
	// offset actually requires them (the default).
	Zip64AsNeeded Zip64Policy = iota
	// Zip64Always always emits Zip64 fields, even for small entries; useful
	// for testing Zip64 handling without building huge archives.
	Zip64Always
	// Zip64Never refuses (with Zip64RequiredError) any entry that would
	// require Zip64 fields.
	Zip64Never
)

// NamePolicy controls how a StreamingWriter encodes names/comments that the
// archive's default encoding cannot losslessly represent, per spec.md
// §4.14.
type NamePolicy int

const (
	// NameUseUTF8Flag sets GPB bit 11 (the language encoding flag) and
	// writes the name as UTF-8 instead of attaching a Unicode-path extra.
	// This is the default; combined with the default UTF-8 archive
	// encoding the flag is set on every entry.
	NameUseUTF8Flag NamePolicy = iota
	// NameAddUnicodeExtra attaches a 0x7075 Unicode-path extra field for
	// any name the archive encoding can't round-trip, leaving GPB bit 11
	// clear.
	NameAddUnicodeExtra
)

// EntryRequest describes one entry to be written: its descriptor plus a
// lazy supplier of its (uncompressed) payload.
type EntryRequest struct {
	Entry *Entry
	// Open, if non-nil, is called once to obtain the payload to compress
	// and write. It is not called for directory entries. Ownership of the
	// returned ReadCloser transfers to the writer, which closes it.
	Open func() (io.ReadCloser, error)
}

// StreamingWriter emits ZIP entries to a sink, choosing between a
// data-descriptor trailer and an in-place seek-back patch of the local
// file header depending on whether the sink is seekable, per spec.md
// §4.14.
type StreamingWriter struct {
	w           io.Writer
	ws          io.WriteSeeker // non-nil iff the sink is seekable
	compressors *CompressorRegistry
	namePolicy  NamePolicy
	zip64Policy Zip64Policy
	encoding    ZipEncoding

	written []writtenEntry
	offset  uint64 // bytes written so far; tracks ws position too
	comment []byte

	state      writerState
	cur        *openEntry
	allowStoredUnknownSize bool
}

type writerState int

const (
	writerReady writerState = iota
	writerInEntry
	writerError
	writerFinished
)

type writtenEntry struct {
	entry  *Entry
	offset uint64
}

// openEntry tracks the in-progress entry between PutEntry and closeEntry.
type openEntry struct {
	entry          *Entry
	offset         uint64 // position of the LFH
	headerPatchable bool   // true if sizes/CRC can be seeked back and patched
	enc            io.WriteCloser
	crc            uint32
	uncompressed   uint64
	compressed     uint64
	countingW      *countingWriter
}

// StreamingWriterOption configures a StreamingWriter.
type StreamingWriterOption func(*StreamingWriter)

// WithWriterCompressorRegistry overrides the default CompressorRegistry.
func WithWriterCompressorRegistry(reg *CompressorRegistry) StreamingWriterOption {
	return func(w *StreamingWriter) { w.compressors = reg }
}

// WithNamePolicy sets how names unrepresentable in the archive encoding are
// handled.
func WithNamePolicy(p NamePolicy) StreamingWriterOption {
	return func(w *StreamingWriter) { w.namePolicy = p }
}

// WithZip64Policy sets the writer's Zip64 emission policy.
func WithZip64Policy(p Zip64Policy) StreamingWriterOption {
	return func(w *StreamingWriter) { w.zip64Policy = p }
}

// WithWriterEncoding sets the archive-wide default name/comment encoding.
// Defaults to UTF8Encoding, which together with the default NameUseUTF8Flag
// policy sets GPB bit 11 on every entry.
func WithWriterEncoding(enc ZipEncoding) StreamingWriterOption {
	return func(w *StreamingWriter) { w.encoding = enc }
}

// AllowStoredUnknownSizeOnNonSeekable lifts the default refusal to write a
// Store-method entry of unknown size to a non-seekable sink (spec.md
// §4.14's explicit allowance).
func AllowStoredUnknownSizeOnNonSeekable() StreamingWriterOption {
	return func(w *StreamingWriter) { w.allowStoredUnknownSize = true }
}

// NewStreamingWriter wraps w. If w also implements io.WriteSeeker, the
// writer patches header fields in place at closeEntry instead of emitting
// a data descriptor whenever possible.
func NewStreamingWriter(w io.Writer, opts ...StreamingWriterOption) *StreamingWriter {
	sw := &StreamingWriter{
		w:           w,
		compressors: DefaultCompressorRegistry(),
		namePolicy:  NameUseUTF8Flag,
		zip64Policy: Zip64AsNeeded,
		encoding:    UTF8Encoding,
	}
	if ws, ok := w.(io.WriteSeeker); ok {
		sw.ws = ws
	}
	return sw
}

// fullyConsume loops write until every byte of p is accepted, per spec.md
// §4.14's partial-write safety requirement: a zero-length short write
// before p is exhausted is treated as an I/O error rather than retried
// forever.
func fullyConsume(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if err := fullyConsume(c.w, p); err != nil {
		return 0, err
	}
	c.n += uint64(len(p))
	return len(p), nil
}

// PutEntry begins writing a new entry: it finalizes header fields (method,
// flags, timestamps, encoded name/extras), writes the local file header,
// and returns an io.WriteCloser for the caller to stream uncompressed
// payload bytes through. Close the returned writer (which internally calls
// closeEntry) before starting the next entry.
func (w *StreamingWriter) PutEntry(e *Entry) (io.WriteCloser, error) {
	if w.state == writerError {
		return nil, ErrIllegalState
	}
	if w.state == writerFinished {
		return nil, ErrIllegalState
	}
	if w.state == writerInEntry {
		return nil, ErrIllegalState
	}

	w.prepareEntry(e)

	if w.zip64Policy == Zip64Never && e.NeedsZip64() {
		return nil, &Zip64RequiredError{Reason: e.Name}
	}

	knownSize := e.UncompressedSize != 0 || e.IsDir()
	seekable := w.ws != nil
	needsDD := !seekable && !knownSize
	if e.Method == MethodStore && !seekable && !knownSize && !w.allowStoredUnknownSize {
		return nil, ErrIllegalState
	}
	e.GPBFlag = e.GPBFlag.WithDataDescriptor(needsDD || (!seekable && e.Method != MethodStore))

	lfhOffset := w.offset
	lfh := w.localHeaderFor(e, !e.GPBFlag.HasDataDescriptor())
	if err := w.writeAndCount(func(cw io.Writer) error {
		return EncodeLocalFileHeader(cw, lfh)
	}); err != nil {
		w.state = writerError
		return nil, err
	}

	enc := w.compressors.Encoder(e.Method)
	if enc == nil {
		w.state = writerError
		return nil, &UnsupportedFeatureError{Kind: FeatureMethod, Method: e.Method}
	}

	cw := &countingWriter{w: w}
	wc, err := enc(cw)
	if err != nil {
		w.state = writerError
		return nil, err
	}

	w.cur = &openEntry{
		entry:           e,
		offset:          lfhOffset,
		headerPatchable: seekable && !e.GPBFlag.HasDataDescriptor(),
		enc:             wc,
		countingW:       cw,
	}
	w.state = writerInEntry
	return &entryWriter{w: w}, nil
}

// prepareEntry finalizes fields the writer, not the caller, is responsible
// for, mirroring the teacher's writer.go prepareEntry/detectUTF8.
func (w *StreamingWriter) prepareEntry(e *Entry) {
	if e.Modified.IsZero() {
		e.Modified = time.Now()
	}
	e.CreatorVersion = e.CreatorVersion&0xff00 | zipVersion20
	e.ReaderVersion = zipVersion20

	canRoundTrip := w.encoding.CanEncode(e.Name) && w.encoding.CanEncode(e.Comment)
	switch {
	case w.namePolicy == NameUseUTF8Flag && (w.encoding == UTF8Encoding || !canRoundTrip):
		e.GPBFlag = e.GPBFlag.WithUTF8(true)
	case w.namePolicy == NameAddUnicodeExtra && !canRoundTrip:
		u := &UnicodePathExtra{NameCRC32: crc32.ChecksumIEEE(w.encoding.Encode(e.Name)), Name: e.Name}
		e.Extra = append(e.Extra, u)
	}

	if e.IsDir() {
		e.Method = MethodStore
		e.GPBFlag = e.GPBFlag.WithDataDescriptor(false)
		e.CompressedSize = 0
		e.UncompressedSize = 0
	}
}

func (w *StreamingWriter) nameBytes(e *Entry) []byte {
	if e.GPBFlag.UsesUTF8() {
		return UTF8Encoding.Encode(e.Name)
	}
	return w.encoding.Encode(e.Name)
}

func (w *StreamingWriter) localHeaderFor(e *Entry, knownSizes bool) *LocalFileHeader {
	modDate, modTime := timeToMsDosTime(e.Modified)
	lfh := &LocalFileHeader{
		ReaderVersion: e.ReaderVersion,
		GPBFlag:       e.GPBFlag,
		Method:        e.Method,
		ModTime:       modTime,
		ModDate:       modDate,
		NameBytes:     w.nameBytes(e),
		ExtraBytes:    MergeLocal(e.Extra),
	}
	if knownSizes {
		lfh.CRC32 = e.CRC32
		lfh.CompressedSize = uint32(e.CompressedSize)
		lfh.UncompressedSize = uint32(e.UncompressedSize)
	}
	return lfh
}

// writeAndCount runs fn against a writer that advances w.offset by however
// many bytes fn writes, so w.offset always reflects the true sink position.
func (w *StreamingWriter) writeAndCount(fn func(io.Writer) error) error {
	cw := &countingWriter{w: w.w}
	if err := fn(cw); err != nil {
		return err
	}
	w.offset += cw.n
	return nil
}

// Write implements io.Writer for w itself so countingWriter can wrap the
// sink directly during PutEntry's header write and entryWriter's payload
// write, keeping w.offset authoritative in both cases.
func (w *StreamingWriter) Write(p []byte) (int, error) {
	if err := fullyConsume(w.w, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// entryWriter is the io.WriteCloser PutEntry hands back to the caller.
type entryWriter struct {
	w *StreamingWriter
}

func (ew *entryWriter) Write(p []byte) (int, error) {
	sw := ew.w
	if sw.state != writerInEntry {
		return 0, ErrIllegalState
	}
	cur := sw.cur
	cur.crc = crc32.Update(cur.crc, crc32.IEEETable, p)
	cur.uncompressed += uint64(len(p))
	if _, err := cur.enc.Write(p); err != nil {
		sw.state = writerError
		return 0, err
	}
	return len(p), nil
}

func (ew *entryWriter) Close() error {
	return ew.w.closeEntry()
}

// closeEntry finalizes the compressor and either patches the header in
// place (seekable sink, sizes were unknown at PutEntry time) or emits a
// data descriptor, per spec.md §4.14.
func (w *StreamingWriter) closeEntry() error {
	if w.state != writerInEntry {
		return ErrIllegalState
	}
	cur := w.cur
	if err := cur.enc.Close(); err != nil {
		w.state = writerError
		return err
	}
	cur.compressed = cur.countingW.n
	w.offset += cur.compressed

	e := cur.entry
	e.CRC32 = cur.crc
	e.UncompressedSize = cur.uncompressed
	e.CompressedSize = cur.compressed
	e.LocalHeaderOffset = cur.offset

	if w.zip64Policy == Zip64Never && e.NeedsZip64() {
		w.state = writerError
		return &Zip64RequiredError{Reason: e.Name}
	}

	switch {
	case cur.headerPatchable:
		if err := w.patchHeader(cur); err != nil {
			w.state = writerError
			return err
		}
	case e.GPBFlag.HasDataDescriptor():
		dd := &DataDescriptor{
			CRC32:            e.CRC32,
			CompressedSize:   e.CompressedSize,
			UncompressedSize: e.UncompressedSize,
			Zip64:            e.NeedsZip64(),
		}
		if err := w.writeAndCount(func(cw io.Writer) error {
			return EncodeDataDescriptor(cw, dd)
		}); err != nil {
			w.state = writerError
			return err
		}
	}

	w.written = append(w.written, writtenEntry{entry: e, offset: cur.offset})
	w.cur = nil
	w.state = writerReady
	return nil
}

// patchHeader seeks back to the LFH's fixed fields and rewrites CRC32 and
// sizes now that they're known, per spec.md §4.14's seekable-sink path.
func (w *StreamingWriter) patchHeader(cur *openEntry) error {
	const fieldsOffset = 14 // signature(4)+version(2)+gpb(2)+method(2)+modtime(2)+moddate(2)
	savedPos := w.offset
	if _, err := w.ws.Seek(int64(cur.offset)+fieldsOffset, io.SeekStart); err != nil {
		return err
	}
	var buf [12]byte
	b := writeBuf(buf[:])
	b.uint32(cur.entry.CRC32)
	b.uint32(uint32(cur.entry.CompressedSize))
	b.uint32(uint32(cur.entry.UncompressedSize))
	if _, err := w.ws.Write(buf[:]); err != nil {
		return err
	}
	_, err := w.ws.Seek(int64(savedPos), io.SeekStart)
	return err
}

// SetComment sets the archive-level comment written into the end of
// central directory record at Finish.
func (w *StreamingWriter) SetComment(comment string) error {
	b := w.encoding.Encode(comment)
	if len(b) > 0xffff {
		return errLongComment
	}
	w.comment = b
	return nil
}

// AddRawArchiveEntry copies compressed bytes verbatim, preserving the
// source entry's CRC/sizes/flags, without emitting a data descriptor even
// on a non-seekable sink — the caller already knows the sizes. This is
// the path ScatterWriter's merge step uses.
func (w *StreamingWriter) AddRawArchiveEntry(e *Entry, compressed io.Reader) error {
	if w.state == writerError || w.state == writerFinished || w.state == writerInEntry {
		return ErrIllegalState
	}
	if w.zip64Policy == Zip64Never && e.NeedsZip64() {
		return &Zip64RequiredError{Reason: e.Name}
	}
	ne := *e
	ne.GPBFlag = ne.GPBFlag.WithDataDescriptor(false)
	ne.CreatorVersion = ne.CreatorVersion&0xff00 | zipVersion20
	ne.ReaderVersion = zipVersion20

	offset := w.offset
	lfh := w.localHeaderFor(&ne, true)
	if err := w.writeAndCount(func(cw io.Writer) error {
		return EncodeLocalFileHeader(cw, lfh)
	}); err != nil {
		w.state = writerError
		return err
	}
	if err := w.writeAndCount(func(cw io.Writer) error {
		_, err := io.Copy(cw, compressed)
		return err
	}); err != nil {
		w.state = writerError
		return err
	}
	ne.LocalHeaderOffset = offset
	w.written = append(w.written, writtenEntry{entry: &ne, offset: offset})
	return nil
}

// Finish emits the central directory, EOCD, and (if needed) Zip64 EOCD
// records, per spec.md §4.14/§4.15's Zip64 triggers.
func (w *StreamingWriter) Finish() error {
	if w.state == writerError {
		return ErrIllegalState
	}
	if w.state == writerInEntry {
		return ErrIllegalState
	}
	if w.state == writerFinished {
		return ErrIllegalState
	}

	cdStart := w.offset
	for _, we := range w.written {
		e := we.entry
		cdh := &CentralDirectoryHeader{
			CreatorVersion: e.CreatorVersion,
			ReaderVersion:  e.ReaderVersion,
			GPBFlag:        e.GPBFlag,
			Method:         e.Method,
			CRC32:          e.CRC32,
			ExternalAttrs:  e.ExternalAttrs,
			NameBytes:      w.nameBytes(e),
			CommentBytes:   w.encoding.Encode(e.Comment),
		}
		modDate, modTime := timeToMsDosTime(e.Modified)
		cdh.ModDate, cdh.ModTime = modDate, modTime

		extra := e.Extra
		needs64 := w.zip64Policy == Zip64Always || (w.zip64Policy == Zip64AsNeeded && e.NeedsZip64())
		if w.zip64Policy == Zip64Never && e.NeedsZip64() {
			w.state = writerError
			return &Zip64RequiredError{Reason: e.Name}
		}
		if needs64 {
			us, cs, off := e.UncompressedSize, e.CompressedSize, e.LocalHeaderOffset
			extra = append(append([]ExtraField{}, extra...), &Zip64Extra{
				UncompressedSize:  &us,
				CompressedSize:    &cs,
				LocalHeaderOffset: &off,
			})
			cdh.CompressedSize = 0xffffffff
			cdh.UncompressedSize = 0xffffffff
			cdh.LocalHeaderOffset = 0xffffffff
			cdh.ReaderVersion = zipVersion45
		} else {
			cdh.CompressedSize = uint32(e.CompressedSize)
			cdh.UncompressedSize = uint32(e.UncompressedSize)
			cdh.LocalHeaderOffset = uint32(e.LocalHeaderOffset)
		}
		cdh.ExtraBytes = MergeCentral(extra)

		if err := w.writeAndCount(func(cw io.Writer) error {
			return EncodeCentralDirectoryHeader(cw, cdh)
		}); err != nil {
			w.state = writerError
			return err
		}
	}
	cdSize := w.offset - cdStart
	count := uint64(len(w.written))

	const u16max, u32max = 0xffff, 0xffffffff
	needZip64EOCD := w.zip64Policy == Zip64Always || count >= u16max || cdSize >= u32max || cdStart >= u32max
	entriesField, cdSizeField, cdOffsetField := count, cdSize, cdStart
	if needZip64EOCD {
		rec := &Zip64EOCDRecord{
			VersionMadeBy:    zipVersion45,
			VersionNeeded:    zipVersion45,
			EntriesThisDisk:  count,
			EntriesTotal:     count,
			CentralDirSize:   cdSize,
			CentralDirOffset: cdStart,
		}
		locOffset := w.offset
		if err := w.writeAndCount(func(cw io.Writer) error {
			return EncodeZip64EOCDRecord(cw, rec)
		}); err != nil {
			w.state = writerError
			return err
		}
		loc := &Zip64EOCDLocator{EOCDOffset: locOffset, TotalDisks: 1}
		if err := w.writeAndCount(func(cw io.Writer) error {
			return EncodeZip64EOCDLocator(cw, loc)
		}); err != nil {
			w.state = writerError
			return err
		}
		entriesField = u16max
		cdSizeField = u32max
		cdOffsetField = u32max
	}

	eocd := &EOCDRecord{
		EntriesThisDisk:  uint16(entriesField),
		EntriesTotal:     uint16(entriesField),
		CentralDirSize:   uint32(cdSizeField),
		CentralDirOffset: uint32(cdOffsetField),
		Comment:          w.comment,
	}
	if err := w.writeAndCount(func(cw io.Writer) error {
		return EncodeEOCD(cw, eocd)
	}); err != nil {
		w.state = writerError
		return err
	}

	w.state = writerFinished
	return nil
}
