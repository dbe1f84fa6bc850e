// Package contrib wires the retrieval pack's compression and I/O libraries
// into zipkit's open CompressorRegistry interface, for the method codes the
// core codec intentionally leaves unregistered.
package contrib

import (
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/zipkit-go/zipkit"
)

// Zstd is the method code PKWARE assigns to Zstandard.
const Zstd uint16 = 93

// ZstdLegacy is the method code some early tooling used for Zstandard
// before 93 was assigned.
const ZstdLegacy uint16 = 20

// RegisterZstd installs Zstandard encode/decode support for both Zstd and
// ZstdLegacy into reg. Each decode creates a fresh zstd decoder; none are
// pooled.
func RegisterZstd(reg *zipkit.CompressorRegistry) {
	reg.RegisterDecoder(Zstd, zstdDecoder)
	reg.RegisterEncoder(Zstd, zstdEncoder)
	reg.RegisterDecoder(ZstdLegacy, zstdDecoder)
	reg.RegisterEncoder(ZstdLegacy, zstdEncoder)
}

func zstdDecoder(r io.Reader) io.ReadCloser {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return errorReadCloser{err}
	}
	return dec.IOReadCloser()
}

func zstdEncoder(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

type errorReadCloser struct{ err error }

func (e errorReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errorReadCloser) Close() error              { return nil }
