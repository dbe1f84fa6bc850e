package contrib

import (
	"io"

	"github.com/dsnet/compress/bzip2"

	"github.com/zipkit-go/zipkit"
)

// BZip2 is the method code PKWARE assigns to BZip2.
const BZip2 uint16 = 12

// RegisterBZip2 installs a BZip2 decoder into reg. Decode-only: no zip
// writer in the wild emits method 12, and dsnet/compress/bzip2's encoder
// would need a format variant this package has no caller for.
func RegisterBZip2(reg *zipkit.CompressorRegistry) {
	reg.RegisterDecoder(BZip2, bzip2Decoder)
}

func bzip2Decoder(r io.Reader) io.ReadCloser {
	br, err := bzip2.NewReader(r, nil)
	if err != nil {
		return errorReadCloser{err}
	}
	return br
}
