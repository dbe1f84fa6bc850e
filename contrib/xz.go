package contrib

import (
	"io"

	"github.com/therootcompany/xz"

	"github.com/zipkit-go/zipkit"
)

// XZ is the method code PKWARE assigns to XZ.
const XZ uint16 = 95

// RegisterXZ installs an XZ decoder into reg. XZ is decode-only here, same
// as Implode and Shrink in the core registry: therootcompany/xz exposes no
// writer.
func RegisterXZ(reg *zipkit.CompressorRegistry) {
	reg.RegisterDecoder(XZ, xzDecoder)
}

func xzDecoder(r io.Reader) io.ReadCloser {
	xr, err := xz.NewReader(r, xz.DefaultDictMax)
	if err != nil {
		return errorReadCloser{err}
	}
	return io.NopCloser(xr)
}
