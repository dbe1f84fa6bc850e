package zipkit

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// ReaderAt is like io.ReaderAt, but also takes a context, so a
// RandomAccessReader backed by a remote object (e.g. an HTTP range
// request) can honor cancellation and deadlines on every read.
type ReaderAt interface {
	// ReadAtContext has same semantics as ReadAt from io.ReaderAt, but takes context.
	ReadAtContext(ctx context.Context, p []byte, off int64) (n int, err error)
}

// SizeReaderAt is an io.ReaderAt that also knows its own length, the shape
// MultiReaderAt's parts must satisfy.
type SizeReaderAt interface {
	io.ReaderAt
	Size() int64
}

// segment is one contiguous piece of a MultiReaderAt's address space,
// carrying its own length so the walk below never has to consult a
// neighbor to know where a piece ends.
type segment struct {
	off  int64
	size int64
	data ReaderAt
}

// MultiReaderAt joins multiple ReaderAt parts into one contiguous address
// space, the stitching primitive httpzip.Archive builds its prefix,
// headers, entry data and central directory on. A read that spans several
// parts checks the context between parts, so a long stitched read over context-blind parts still cancels
// promptly.
type MultiReaderAt struct {
	segs []segment
	size int64
}

// NewMultiReaderAt returns an empty MultiReaderAt ready for Add calls.
func NewMultiReaderAt() *MultiReaderAt { return &MultiReaderAt{} }

// Add appends a part of the given size to the joined address space. Add
// must not be called after the reader has been read from. Zero-size parts
// are dropped.
func (m *MultiReaderAt) Add(data ReaderAt, size int64) {
	if size < 0 {
		panic(fmt.Sprintf("zipkit: negative part size %d", size))
	}
	if size == 0 {
		return
	}
	m.segs = append(m.segs, segment{off: m.size, size: size, data: data})
	m.size += size
}

// AddSizeReaderAt is like Add, but takes a plain io.ReaderAt that reports
// its own Size, ignoring context on every read.
func (m *MultiReaderAt) AddSizeReaderAt(r SizeReaderAt) {
	m.Add(IgnoreContext(r), r.Size())
}

// Size returns the combined size of every part.
func (m *MultiReaderAt) Size() int64 { return m.size }

// ReadAtContext reads len(p) bytes starting at off, walking as many parts
// as the request spans. Reading past the joined size returns the bytes
// that exist plus io.EOF, matching io.ReaderAt's contract.
func (m *MultiReaderAt) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= m.size {
		return 0, io.EOF
	}
	// The part containing off is the one before the first part that
	// starts beyond it. Parts are contiguous and off < m.size, so the
	// index is always valid.
	i := sort.Search(len(m.segs), func(i int) bool { return m.segs[i].off > off }) - 1

	var total int
	for ; i < len(m.segs) && total < len(p); i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		seg := m.segs[i]
		local := off + int64(total) - seg.off
		want := int64(len(p) - total)
		if avail := seg.size - local; want > avail {
			want = avail
		}
		n, err := seg.data.ReadAtContext(ctx, p[total:total+int(want)], local)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// ReadAt implements io.ReaderAt over the joined address space.
func (m *MultiReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return m.ReadAtContext(context.Background(), p, off)
}

// readAtContextFunc adapts an ordinary function to the ReaderAt interface,
// the same shape http.HandlerFunc gives http.Handler.
type readAtContextFunc func(ctx context.Context, p []byte, off int64) (int, error)

func (f readAtContextFunc) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	return f(ctx, p, off)
}

// IgnoreContext adapts a plain io.ReaderAt into a ReaderAt that performs
// the same read whatever context it's given.
func IgnoreContext(r io.ReaderAt) ReaderAt {
	return readAtContextFunc(func(_ context.Context, p []byte, off int64) (int, error) {
		return r.ReadAt(p, off)
	})
}

// readAtFunc is the context-free counterpart of readAtContextFunc.
type readAtFunc func(p []byte, off int64) (int, error)

func (f readAtFunc) ReadAt(p []byte, off int64) (int, error) { return f(p, off) }

// WithContext adapts r into a plain io.ReaderAt, fixing ctx for every
// read. The returned value should live no longer than ctx itself; see
// httpzip.Archive.ServeHTTP, which binds one per request.
func WithContext(ctx context.Context, r ReaderAt) io.ReaderAt {
	return readAtFunc(func(p []byte, off int64) (int, error) {
		return r.ReadAtContext(ctx, p, off)
	})
}
