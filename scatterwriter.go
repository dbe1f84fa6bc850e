package zipkit

import (
	"context"
	"hash/crc32"
	"io"

	"golang.org/x/sync/errgroup"
)

// TempFile is the host-provided temp-file interface ScatterWriter spills
// compressed entry bytes through, per spec.md §6's Temp-file interface.
type TempFile interface {
	io.Writer
	// OpenRead returns a fresh sequential reader over everything written so
	// far. It may be called only after the TempFile is done being written.
	OpenRead() (io.ReadCloser, error)
	// Delete releases the underlying storage. Safe to call after OpenRead's
	// readers are closed.
	Delete() error
}

// TempFileFactory creates a new, empty TempFile, e.g. backed by
// ioutil.TempFile or an in-memory buffer for tests.
type TempFileFactory func() (TempFile, error)

// InputStreamSupplier lazily produces the uncompressed payload for one
// scatter entry. Ownership of the returned ReadCloser transfers to the
// bucket, which closes it once consumed.
type InputStreamSupplier func() (io.ReadCloser, error)

// scatterEntryMeta records one spilled entry's descriptor plus the byte
// range (within its bucket's temp file) holding its compressed payload.
type scatterEntryMeta struct {
	entry      *Entry
	spillStart int64
	spillLen   int64
}

// ScatterBucket is a thread-local spill area: one producer thread adds
// entries to it without any coordination with other buckets, per spec.md
// §4.15.
type ScatterBucket struct {
	temp        TempFile
	compressors *CompressorRegistry
	metas       []scatterEntryMeta
	written     int64
}

// NewScatterBucket creates a bucket backed by a fresh temp file from
// factory.
func NewScatterBucket(factory TempFileFactory, compressors *CompressorRegistry) (*ScatterBucket, error) {
	tf, err := factory()
	if err != nil {
		return nil, err
	}
	if compressors == nil {
		compressors = DefaultCompressorRegistry()
	}
	return &ScatterBucket{temp: tf, compressors: compressors}, nil
}

// Add reserves e's descriptor, streams payload from open through e's
// method's encoder and a CRC32 counter into the bucket's spill file, and
// records the resulting (entry, compressed_size, uncompressed_size, crc32)
// metadata, per spec.md §4.15 step 1-2.
func (b *ScatterBucket) Add(e *Entry, open InputStreamSupplier) error {
	if e.IsDir() {
		b.metas = append(b.metas, scatterEntryMeta{entry: e})
		return nil
	}

	enc := b.compressors.Encoder(e.Method)
	if enc == nil {
		return &UnsupportedFeatureError{Kind: FeatureMethod, Method: e.Method}
	}

	src, err := open()
	if err != nil {
		return err
	}
	defer src.Close()

	start := b.written
	cw := &countingWriter{w: b.temp}
	wc, err := enc(cw)
	if err != nil {
		return err
	}

	var crc uint32
	var uncompressed uint64
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			crc = crc32.Update(crc, crc32.IEEETable, buf[:n])
			uncompressed += uint64(n)
			if _, werr := wc.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	if err := wc.Close(); err != nil {
		return err
	}
	b.written += int64(cw.n)

	ne := *e
	ne.CRC32 = crc
	ne.UncompressedSize = uncompressed
	ne.CompressedSize = uint64(cw.n)
	b.metas = append(b.metas, scatterEntryMeta{
		entry:      &ne,
		spillStart: start,
		spillLen:   int64(cw.n),
	})
	return nil
}

// ScatterWriter fans entry production out across caller-supplied producer
// threads, each owning its own ScatterBucket, then merges the buckets into
// a single target StreamingWriter, per spec.md §4.15.
type ScatterWriter struct {
	factory     TempFileFactory
	compressors *CompressorRegistry

	mu      chanMutex
	buckets []*ScatterBucket
}

// chanMutex is a channel-based mutex, matching the lock-free-not-required
// but safely-shareable contract spec.md §5 places on shared registries;
// ScatterWriter uses the same shape to serialize bucket registration from
// concurrent producer goroutines.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}

func (c chanMutex) Lock()   { <-c }
func (c chanMutex) Unlock() { c <- struct{}{} }

// NewScatterWriter creates a ScatterWriter whose buckets spill through
// temp files from factory.
func NewScatterWriter(factory TempFileFactory, compressors *CompressorRegistry) *ScatterWriter {
	if compressors == nil {
		compressors = DefaultCompressorRegistry()
	}
	return &ScatterWriter{factory: factory, compressors: compressors, mu: newChanMutex()}
}

// NewBucket creates and registers a new bucket in producer-registration
// order, the order the merge step will later replay, per spec.md §4.15 and
// the "inter-bucket order is producer-registration order" decision in
// DESIGN.md.
func (sw *ScatterWriter) NewBucket() (*ScatterBucket, error) {
	b, err := NewScatterBucket(sw.factory, sw.compressors)
	if err != nil {
		return nil, err
	}
	sw.mu.Lock()
	sw.buckets = append(sw.buckets, b)
	sw.mu.Unlock()
	return b, nil
}

// RunProducers runs one goroutine per producer function concurrently via
// errgroup, each with its own freshly registered bucket, and returns the
// first error encountered (if any), per spec.md §6's "caller supplies the
// worker threads" concurrency interface.
func (sw *ScatterWriter) RunProducers(ctx context.Context, producers ...func(ctx context.Context, bucket *ScatterBucket) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range producers {
		p := p
		b, err := sw.NewBucket()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return p(ctx, b)
		})
	}
	return g.Wait()
}

// Merge replays every bucket, in producer-registration order, and within
// each bucket every entry in insertion order, invoking target's
// AddRawArchiveEntry for each. It must not be called while any producer
// goroutine might still be adding to a bucket (spec.md §5).
func (sw *ScatterWriter) Merge(target *StreamingWriter) error {
	for _, b := range sw.buckets {
		if err := mergeBucket(b, target); err != nil {
			return err
		}
	}
	return nil
}

func mergeBucket(b *ScatterBucket, target *StreamingWriter) error {
	var rc io.ReadCloser
	var err error
	needsRead := false
	for _, m := range b.metas {
		if !m.entry.IsDir() {
			needsRead = true
			break
		}
	}
	if needsRead {
		rc, err = b.temp.OpenRead()
		if err != nil {
			return err
		}
		defer rc.Close()
	}

	var pos int64
	for _, m := range b.metas {
		if m.entry.IsDir() {
			ew, err := target.PutEntry(m.entry)
			if err != nil {
				return err
			}
			if err := ew.Close(); err != nil {
				return err
			}
			continue
		}
		if m.spillStart != pos {
			if _, err := io.CopyN(io.Discard, rc, m.spillStart-pos); err != nil {
				return err
			}
			pos = m.spillStart
		}
		if err := target.AddRawArchiveEntry(m.entry, io.LimitReader(rc, m.spillLen)); err != nil {
			return err
		}
		pos += m.spillLen
	}
	return nil
}

// Close releases every bucket's temp file. Safe to call after Merge.
func (sw *ScatterWriter) Close() error {
	var firstErr error
	for _, b := range sw.buckets {
		if err := b.temp.Delete(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
