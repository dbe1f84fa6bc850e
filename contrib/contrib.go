package contrib

import "github.com/zipkit-go/zipkit"

// NewRegistry returns a fresh zipkit.CompressorRegistry seeded with the
// core Store/Deflate/Implode/Shrink set plus every codec this package
// contributes.
func NewRegistry() *zipkit.CompressorRegistry {
	reg := zipkit.NewCompressorRegistry()
	RegisterZstd(reg)
	RegisterXZ(reg)
	RegisterBZip2(reg)
	return reg
}
