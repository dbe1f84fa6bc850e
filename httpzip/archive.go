package httpzip

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zipkit-go/zipkit"
)

// Template defines the contents and options of a ZIP archive to be built
// and served.
type Template struct {
	// Prefix is the content at the beginning of the file before ZIP
	// entries, letting callers build self-extracting archives.
	Prefix     io.ReaderAt
	PrefixSize int64

	Entries []*FileHeader

	Comment string

	// CreateTime populates the HTTP Last-Modified header. If zero, the
	// latest Modified time among Entries is used.
	CreateTime time.Time
}

// Archive is the built, servable form of a Template: an io.ReaderAt over
// the complete archive bytes, stitched together from the template's
// pieces without ever holding them all in memory at once.
type Archive struct {
	parts      *zipkit.MultiReaderAt
	createTime time.Time
	etag       string
}

// NewArchive builds an Archive from a Template. All entries must have
// CRC32, UncompressedSize and CompressedSize already set to correct
// values; streaming computation of those from Content is out of scope
// here (compress entries ahead of time, or use zipkit.StreamingWriter for
// that).
//
// The template becomes owned by the archive: its FileHeaders are mutated
// in place (their Extra list gains a timestamp field, for instance), so
// the caller should not reuse them afterward.
func NewArchive(t *Template) (*Archive, error) {
	if len(t.Comment) > 0xffff {
		return nil, errors.New("httpzip: comment too long")
	}

	ar := &Archive{parts: zipkit.NewMultiReaderAt()}
	type dirEntry struct {
		h      *FileHeader
		offset int64
	}
	dir := make([]dirEntry, 0, len(t.Entries))
	etagHash := md5.New()

	if t.Prefix != nil {
		ar.parts.Add(zipkit.IgnoreContext(t.Prefix), t.PrefixSize)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(t.PrefixSize))
		etagHash.Write(buf[:])
	}

	var maxTime time.Time
	for _, h := range t.Entries {
		prepareHeader(h)
		offset := ar.parts.Size()
		dir = append(dir, dirEntry{h: h, offset: offset})

		var headerBuf bytes.Buffer
		if err := writeLocalHeader(&headerBuf, h); err != nil {
			return nil, err
		}
		headerBytes := headerBuf.Bytes()
		ar.parts.AddSizeReaderAt(bytes.NewReader(headerBytes))
		etagHash.Write(headerBytes)

		if len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/' {
			if h.Content != nil {
				return nil, errors.New("httpzip: directory entry has non-nil content")
			}
		} else {
			if h.Content != nil {
				ar.parts.Add(asReaderAt(h.Content), int64(h.CompressedSize))
			} else if h.CompressedSize != 0 {
				return nil, errors.New("httpzip: empty entry with nonzero length")
			}
			dd := makeDataDescriptor(h)
			ar.parts.AddSizeReaderAt(bytes.NewReader(dd))
			etagHash.Write(dd)
		}
		if h.Modified.After(maxTime) {
			maxTime = h.Modified
		}
	}

	centralDirOffset := ar.parts.Size()
	var cdBuf bytes.Buffer
	count := uint64(len(dir))
	for _, d := range dir {
		cdh := &zipkit.CentralDirectoryHeader{
			CreatorVersion: d.h.CreatorVersion,
			ReaderVersion:  d.h.ReaderVersion,
			GPBFlag:        d.h.GPBFlag,
			Method:         d.h.Method,
			CRC32:          d.h.CRC32,
			ExternalAttrs:  d.h.ExternalAttrs,
			NameBytes:      nameBytes(d.h),
			CommentBytes:   commentBytes(d.h),
		}
		modDate, modTime := msDosTimeOf(d.h.Modified)
		cdh.ModDate, cdh.ModTime = modDate, modTime

		extra := d.h.Extra
		if d.h.NeedsZip64() || d.offset >= 0xffffffff {
			z64 := &zipkit.Zip64Extra{}
			us, cs, off := d.h.UncompressedSize, d.h.CompressedSize, uint64(d.offset)
			z64.UncompressedSize = &us
			z64.CompressedSize = &cs
			z64.LocalHeaderOffset = &off
			extra = append(append([]zipkit.ExtraField{}, extra...), z64)
			cdh.CompressedSize = 0xffffffff
			cdh.UncompressedSize = 0xffffffff
			cdh.LocalHeaderOffset = 0xffffffff
		} else {
			cdh.CompressedSize = uint32(d.h.CompressedSize)
			cdh.UncompressedSize = uint32(d.h.UncompressedSize)
			cdh.LocalHeaderOffset = uint32(d.offset)
		}
		cdh.ExtraBytes = zipkit.MergeCentral(extra)

		if err := zipkit.EncodeCentralDirectoryHeader(&cdBuf, cdh); err != nil {
			return nil, err
		}
	}
	cdBytes := cdBuf.Bytes()
	ar.parts.AddSizeReaderAt(bytes.NewReader(cdBytes))
	etagHash.Write(cdBytes)

	cdSize := uint64(len(cdBytes))
	endOffset := uint64(centralDirOffset) + cdSize

	const uint16max = 0xffff
	const uint32max = 0xffffffff
	if count >= uint16max || cdSize >= uint32max || uint64(centralDirOffset) >= uint32max {
		var tailBuf bytes.Buffer
		rec := &zipkit.Zip64EOCDRecord{
			VersionMadeBy:    45,
			VersionNeeded:    45,
			EntriesThisDisk:  count,
			EntriesTotal:     count,
			CentralDirSize:   cdSize,
			CentralDirOffset: uint64(centralDirOffset),
		}
		if err := zipkit.EncodeZip64EOCDRecord(&tailBuf, rec); err != nil {
			return nil, err
		}
		loc := &zipkit.Zip64EOCDLocator{EOCDOffset: endOffset, TotalDisks: 1}
		if err := zipkit.EncodeZip64EOCDLocator(&tailBuf, loc); err != nil {
			return nil, err
		}
		tailBytes := tailBuf.Bytes()
		ar.parts.AddSizeReaderAt(bytes.NewReader(tailBytes))
		etagHash.Write(tailBytes)

		count = uint16max
		cdSize = uint32max
		centralDirOffset = int64(uint32max)
	}

	var eocdBuf bytes.Buffer
	eocd := &zipkit.EOCDRecord{
		EntriesThisDisk:  uint16(count),
		EntriesTotal:     uint16(count),
		CentralDirSize:   uint32(cdSize),
		CentralDirOffset: uint32(centralDirOffset),
		Comment:          []byte(t.Comment),
	}
	if err := zipkit.EncodeEOCD(&eocdBuf, eocd); err != nil {
		return nil, err
	}
	eocdBytes := eocdBuf.Bytes()
	ar.parts.AddSizeReaderAt(bytes.NewReader(eocdBytes))
	etagHash.Write(eocdBytes)

	ar.createTime = t.CreateTime
	if ar.createTime.IsZero() {
		ar.createTime = maxTime
	}
	ar.etag = fmt.Sprintf("%q", hex.EncodeToString(etagHash.Sum(nil)))
	return ar, nil
}

func asReaderAt(r io.ReaderAt) zipkit.ReaderAt {
	if v, ok := r.(zipkit.ReaderAt); ok {
		return v
	}
	return zipkit.IgnoreContext(r)
}

// Size returns the total size of the archive in bytes.
func (ar *Archive) Size() int64 { return ar.parts.Size() }

// ReadAt implements io.ReaderAt over the whole archive.
func (ar *Archive) ReadAt(p []byte, off int64) (int, error) {
	return ar.parts.ReadAtContext(context.TODO(), p, off)
}

// ReadAtContext is like ReadAt, but forwards ctx to entries whose Content
// implements zipkit.ReaderAt.
func (ar *Archive) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	return ar.parts.ReadAtContext(ctx, p, off)
}

// ServeHTTP serves the archive, supporting range requests and conditional
// GETs via http.ServeContent.
func (ar *Archive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.Header()["Content-Type"]; !ok {
		w.Header().Set("Content-Type", "application/zip")
	}
	if _, ok := w.Header()["Etag"]; !ok {
		w.Header().Set("Etag", ar.etag)
	}
	rs := io.NewSectionReader(zipkit.WithContext(r.Context(), ar.parts), 0, ar.parts.Size())
	http.ServeContent(w, r, "", ar.createTime, rs)
}
