// Package httpzip serves a pre-built ZIP archive over HTTP with working
// byte-range requests, without holding the whole archive in memory: entry
// data is fetched on demand from a caller-supplied io.ReaderAt, and only
// the small, fixed-shape headers are ever buffered.
//
// This package does not support disk spanning.
package httpzip

import (
	"io"
	"os"
	"path"

	"github.com/zipkit-go/zipkit"
)

// FileHeader describes one file or directory to be placed in the archive,
// reusing zipkit.Entry for the metadata every ZIP record shares and adding
// the one thing a RandomAccessReader's Entry never needs: a handle to the
// not-yet-written content.
type FileHeader struct {
	*zipkit.Entry

	// Content is the (uncompressed or pre-compressed, depending on Method)
	// data of the file. Its size must match UncompressedSize/
	// CompressedSize as appropriate for Method. Directories (Name ending
	// in "/") must leave Content nil.
	//
	// Content may implement zipkit.ReaderAt, in which case its
	// ReadAtContext method is used instead of ReadAt.
	Content io.ReaderAt
}

// NewFileHeader returns an empty FileHeader ready to be filled in.
func NewFileHeader(name string) *FileHeader {
	return &FileHeader{Entry: &zipkit.Entry{Name: name}}
}

// FileInfoHeader builds a partially-populated FileHeader from an
// os.FileInfo, the way archive/zip's FileInfoHeader does. The caller
// typically still needs to set Name to a full relative path (FileInfo
// only knows the base name) and Content for regular files.
func FileInfoHeader(fi os.FileInfo) (*FileHeader, error) {
	h := NewFileHeader(fi.Name())
	h.UncompressedSize = uint64(fi.Size())
	h.CompressedSize = uint64(fi.Size())
	h.Modified = fi.ModTime()
	h.SetMode(fi.Mode())
	if fi.IsDir() && h.Name[len(h.Name)-1] != '/' {
		h.Name += "/"
	}
	return h, nil
}

// baseName mirrors os.FileInfo.Name for a FileHeader: only the final path
// component.
func (h *FileHeader) baseName() string { return path.Base(h.Name) }
