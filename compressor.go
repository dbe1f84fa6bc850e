package zipkit

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// Well-known compression method codes (spec.md §2 DATA MODEL).
const (
	MethodStore   uint16 = 0
	MethodShrink  uint16 = 1
	MethodImplode uint16 = 6
	MethodDeflate uint16 = 8
)

// Decoder wraps compressed bytes read from r into their decompressed form.
// Implementations must tolerate being handed fewer bytes than the full
// compressed stream's length and report io.EOF (or another error) once
// exhausted; the caller is responsible for limiting r to the entry's
// compressed extent.
type Decoder func(r io.Reader) io.ReadCloser

// Encoder wraps w so that bytes written to the returned WriteCloser are
// compressed into w as they arrive. Close flushes any trailing bytes but
// does not close w itself.
type Encoder func(w io.Writer) (io.WriteCloser, error)

// CompressorRegistry maps compression method codes to their decoder and
// encoder factories. Like ExtraFieldRegistry, a registry is built once and
// treated as read-only afterward; concurrent lookups are safe, concurrent
// Register calls are not.
type CompressorRegistry struct {
	decoders map[uint16]Decoder
	encoders map[uint16]Encoder
}

// NewCompressorRegistry returns a registry with Store and Deflate already
// registered for both directions, and Implode and Shrink registered as
// decode-only (the format provides no compressor for either, only a
// decompressor recovered from historical PKZIP archives).
func NewCompressorRegistry() *CompressorRegistry {
	r := &CompressorRegistry{
		decoders: make(map[uint16]Decoder),
		encoders: make(map[uint16]Encoder),
	}
	r.RegisterDecoder(MethodStore, storeDecoder)
	r.RegisterEncoder(MethodStore, storeEncoder)
	r.RegisterDecoder(MethodDeflate, deflateDecoder)
	r.RegisterEncoder(MethodDeflate, deflateEncoder)
	r.RegisterDecoder(MethodImplode, implodeDecoderFor)
	r.RegisterDecoder(MethodShrink, shrinkDecoderFor)
	return r
}

// RegisterDecoder installs dec for method, overwriting any existing entry.
func (r *CompressorRegistry) RegisterDecoder(method uint16, dec Decoder) {
	r.decoders[method] = dec
}

// RegisterEncoder installs enc for method, overwriting any existing entry.
func (r *CompressorRegistry) RegisterEncoder(method uint16, enc Encoder) {
	r.encoders[method] = enc
}

// Decoder returns the registered decoder for method, or nil if none is
// registered (the caller should treat this as an unsupported method).
func (r *CompressorRegistry) Decoder(method uint16) Decoder {
	return r.decoders[method]
}

// Encoder returns the registered encoder for method, or nil if none is
// registered.
func (r *CompressorRegistry) Encoder(method uint16) Encoder {
	return r.encoders[method]
}

// CanDecode reports whether method has a registered decoder.
func (r *CompressorRegistry) CanDecode(method uint16) bool {
	return r.decoders[method] != nil
}

// CanEncode reports whether method has a registered encoder.
func (r *CompressorRegistry) CanEncode(method uint16) bool {
	return r.encoders[method] != nil
}

var defaultCompressorRegistry = NewCompressorRegistry()

// DefaultCompressorRegistry returns the package-wide registry used when a
// StreamingReader or RandomAccessReader isn't given one explicitly.
func DefaultCompressorRegistry() *CompressorRegistry { return defaultCompressorRegistry }

func storeDecoder(r io.Reader) io.ReadCloser {
	return io.NopCloser(r)
}

func storeEncoder(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var flateReaderPool sync.Pool

// deflateDecoder uses klauspost/compress/flate rather than the standard
// library's compress/flate: its documentation warns it may read past the
// end of a deflate stream looking for the next block, which would consume
// bytes belonging to whatever follows the entry in the archive.
func deflateDecoder(r io.Reader) io.ReadCloser {
	fr, ok := flateReaderPool.Get().(io.ReadCloser)
	if ok {
		fr.(flate.Resetter).Reset(r, nil)
	} else {
		fr = flate.NewReader(r)
	}
	return &pooledFlateReader{fr: fr}
}

type pooledFlateReader struct {
	mu sync.Mutex
	fr io.ReadCloser
}

func (r *pooledFlateReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fr == nil {
		return 0, io.ErrClosedPipe
	}
	return r.fr.Read(p)
}

func (r *pooledFlateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.fr != nil {
		err = r.fr.Close()
		flateReaderPool.Put(r.fr)
		r.fr = nil
	}
	return err
}

func deflateEncoder(w io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(w, flate.DefaultCompression)
}

// implodeDecoderFor adapts newExplodeDecoder to the Decoder shape expected
// by the registry, so CanDecode reports Implode as readable. Readers never
// call it: decoderFor routes Implode entries through NewImplodeDecoder,
// which has the entry's GeneralPurposeBit and so the real dictionary size
// and tree count.
func implodeDecoderFor(r io.Reader) io.ReadCloser {
	d, err := newExplodeDecoder(r, 8192, 3)
	if err != nil {
		return errorReadCloser{err}
	}
	return d
}

func shrinkDecoderFor(r io.Reader) io.ReadCloser {
	return newUnshrinkDecoder(r)
}

type errorReadCloser struct{ err error }

func (e errorReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errorReadCloser) Close() error              { return nil }

// decoderFor builds the decompressing reader for e over raw. Implode is
// special-cased because its dictionary size and tree count live in the
// entry's general-purpose bit flags, which the plain Decoder signature
// doesn't carry.
func decoderFor(reg *CompressorRegistry, e *Entry, raw io.Reader) (io.ReadCloser, error) {
	if e.Method == MethodImplode && reg.CanDecode(MethodImplode) {
		return NewImplodeDecoder(raw, e.GPBFlag)
	}
	dec := reg.Decoder(e.Method)
	if dec == nil {
		return nil, &UnsupportedFeatureError{Kind: FeatureMethod, Method: e.Method}
	}
	return dec(raw), nil
}

// NewImplodeDecoder constructs an Implode decoder for an entry whose
// general-purpose bit flags give the dictionary size and tree count,
// wrapped as a plain io.ReadCloser.
func NewImplodeDecoder(r io.Reader, gpb GeneralPurposeBit) (io.ReadCloser, error) {
	dictSize := gpb.ImplodeDictionarySize()
	trees := gpb.ImplodeTreeCount()
	d, err := newExplodeDecoder(r, dictSize, trees)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewShrinkDecoder constructs an Unshrink decoder, wrapped as a plain
// io.ReadCloser.
func NewShrinkDecoder(r io.Reader) io.ReadCloser {
	return newUnshrinkDecoder(r)
}
