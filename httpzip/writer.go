package httpzip

import (
	"io"
	"strings"
	"time"

	"github.com/zipkit-go/zipkit"
)

// prepareHeader finalizes the fields an archive builder, not the caller,
// is responsible for: the creator/reader version bytes, the UTF-8 flag,
// an extended-timestamp extra field, and (for directories) forcing Store
// with no data descriptor.
func prepareHeader(h *FileHeader) {
	nameOK := zipkit.CP437Encoding.CanEncode(h.Name)
	commentOK := zipkit.CP437Encoding.CanEncode(h.Comment)
	if nameOK && commentOK {
		h.GPBFlag = h.GPBFlag.WithUTF8(false)
	} else {
		h.GPBFlag = h.GPBFlag.WithUTF8(true)
	}

	h.CreatorVersion = h.CreatorVersion&0xff00 | 20
	h.ReaderVersion = 20

	mt := h.Modified
	ts := &zipkit.ExtendedTimestampExtra{ModTime: &mt}
	h.Extra = append(h.Extra, ts)

	if strings.HasSuffix(h.Name, "/") {
		h.Method = zipkit.MethodStore
		h.GPBFlag = h.GPBFlag.WithDataDescriptor(false)
		h.CompressedSize = 0
		h.UncompressedSize = 0
	} else {
		h.GPBFlag = h.GPBFlag.WithDataDescriptor(true)
	}
}

// nameBytes and commentBytes encode h's name/comment per its (now
// finalized) UTF-8 flag.
func nameBytes(h *FileHeader) []byte {
	if h.GPBFlag.UsesUTF8() {
		return zipkit.UTF8Encoding.Encode(h.Name)
	}
	return zipkit.CP437Encoding.Encode(h.Name)
}

func commentBytes(h *FileHeader) []byte {
	if h.GPBFlag.UsesUTF8() {
		return zipkit.UTF8Encoding.Encode(h.Comment)
	}
	return zipkit.CP437Encoding.Encode(h.Comment)
}

func writeLocalHeader(w io.Writer, h *FileHeader) error {
	modDate, modTime := msDosTimeOf(h.Modified)
	lfh := &zipkit.LocalFileHeader{
		ReaderVersion: h.ReaderVersion,
		GPBFlag:       h.GPBFlag,
		Method:        h.Method,
		ModTime:       modTime,
		ModDate:       modDate,
		// a data descriptor follows, so CRC32 and sizes are written zero
		NameBytes:  nameBytes(h),
		ExtraBytes: zipkit.MergeLocal(h.Extra),
	}
	return zipkit.EncodeLocalFileHeader(w, lfh)
}

func makeDataDescriptor(h *FileHeader) []byte {
	var buf []byte
	dd := &zipkit.DataDescriptor{
		CRC32:            h.CRC32,
		CompressedSize:   h.CompressedSize,
		UncompressedSize: h.UncompressedSize,
		Zip64:            h.NeedsZip64(),
	}
	w := &bufWriter{}
	_ = zipkit.EncodeDataDescriptor(w, dd)
	buf = w.buf
	return buf
}

type bufWriter struct{ buf []byte }

func (b *bufWriter) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// msDosTimeOf is the same 2-second-resolution DOS date/time conversion
// every entry's fixed header fields carry alongside the extended
// timestamp extra field, exposed here since it's unexported in zipkit.
func msDosTimeOf(t time.Time) (date, time_ uint16) {
	if t.Year() < 1980 {
		return (1 << 5) | 1, 0
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	time_ = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}
