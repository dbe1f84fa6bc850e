package zipkit

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"io"
	"testing"
)

func TestRandomAccessReader_CommentAndMissingEntry(t *testing.T) {
	var buf bytes.Buffer
	writeSimpleArchive(t, &buf)

	ctx := context.Background()
	rr, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(buf.Bytes())), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}
	if len(rr.Comment()) != 0 {
		t.Fatalf("Comment() = %q, want empty", rr.Comment())
	}
	if rr.Entry("does-not-exist") != nil {
		t.Fatal("Entry() for missing name should return nil")
	}
}

func TestRandomAccessReader_CanReadEntryData(t *testing.T) {
	var buf bytes.Buffer
	writeSimpleArchive(t, &buf)

	ctx := context.Background()
	rr, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(buf.Bytes())), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}
	e := rr.Entry("hello.txt")
	if e == nil {
		t.Fatal("hello.txt not found")
	}
	if !rr.CanReadEntryData(e) {
		t.Fatal("Store entry should be decodable")
	}
}

func TestRandomAccessReader_RawInputStream(t *testing.T) {
	var buf bytes.Buffer
	writeSimpleArchive(t, &buf)

	ctx := context.Background()
	rr, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(buf.Bytes())), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}
	e := rr.Entry("hello.txt")
	raw, err := rr.RawInputStream(ctx, e)
	if err != nil {
		t.Fatalf("RawInputStream: %v", err)
	}
	got, err := io.ReadAll(raw)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// Stored, so raw bytes equal decompressed bytes.
	if string(got) != "hello, world\n" {
		t.Fatalf("raw bytes = %q, want %q", got, "hello, world\n")
	}
}

func TestRandomAccessReader_IgnoreLocalFileHeader(t *testing.T) {
	var buf bytes.Buffer
	writeSimpleArchive(t, &buf)

	ctx := context.Background()
	rr, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(buf.Bytes())), int64(buf.Len()), IgnoreLocalFileHeader())
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}
	e := rr.Entry("hello.txt")
	rc, err := rr.InputStream(ctx, e)
	if err != nil {
		t.Fatalf("InputStream: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello, world\n" {
		t.Fatalf("got %q, want %q", got, "hello, world\n")
	}
}

func TestRandomAccessReader_NoEOCDHasFixedMessage(t *testing.T) {
	// Large enough to hold an EOCD record, but all zeros: the back-scan
	// finds no signature.
	data := make([]byte, 64)
	ctx := context.Background()
	_, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(data)), int64(len(data)))
	if err == nil {
		t.Fatal("expected an error for an archive without an EOCD record")
	}
	if err.Error() != "No end of central directory record found" {
		t.Fatalf("error = %q, want %q", err.Error(), "No end of central directory record found")
	}
}

func TestRandomAccessReader_EntriesInPhysicalOrder(t *testing.T) {
	var buf bytes.Buffer
	writeSimpleArchive(t, &buf)

	ctx := context.Background()
	rr, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(buf.Bytes())), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}
	phys := rr.EntriesInPhysicalOrder()
	if len(phys) != 3 {
		t.Fatalf("len = %d, want 3", len(phys))
	}
	var last uint64
	for _, e := range phys {
		if e.LocalHeaderOffset < last {
			t.Fatalf("entries not sorted by local header offset: %v", phys)
		}
		last = e.LocalHeaderOffset
	}
}

func TestRandomAccessReader_EntriesByNameReturnsAllMatches(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamingWriter(&buf)
	for _, body := range []string{"first", "second"} {
		data := []byte(body)
		e := &Entry{
			Name:             "dup.txt",
			Method:           MethodStore,
			CRC32:            crc32.ChecksumIEEE(data),
			UncompressedSize: uint64(len(data)),
			CompressedSize:   uint64(len(data)),
		}
		if err := sw.AddRawArchiveEntry(e, bytes.NewReader(data)); err != nil {
			t.Fatalf("AddRawArchiveEntry: %v", err)
		}
	}
	if err := sw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	ctx := context.Background()
	rr, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(buf.Bytes())), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}
	all := rr.EntriesByName("dup.txt")
	if len(all) != 2 {
		t.Fatalf("EntriesByName = %d entries, want 2", len(all))
	}
	first := rr.Entry("dup.txt")
	if first != all[0] {
		t.Fatal("Entry should return the first match in central directory order")
	}
	got, err := io.ReadAll(mustRawStream(t, ctx, rr, first))
	if err != nil {
		t.Fatalf("reading first dup: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("first dup body = %q, want %q", got, "first")
	}
}

func mustRawStream(t *testing.T, ctx context.Context, rr *RandomAccessReader, e *Entry) io.Reader {
	t.Helper()
	raw, err := rr.RawInputStream(ctx, e)
	if err != nil {
		t.Fatalf("RawInputStream: %v", err)
	}
	return raw
}

func TestRandomAccessReader_EncryptedEntryRefused(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamingWriter(&buf)
	data := []byte("sealed")
	e := &Entry{
		Name:             "sealed.bin",
		Method:           MethodStore,
		GPBFlag:          GeneralPurposeBit(1),
		CRC32:            crc32.ChecksumIEEE(data),
		UncompressedSize: uint64(len(data)),
		CompressedSize:   uint64(len(data)),
	}
	if err := sw.AddRawArchiveEntry(e, bytes.NewReader(data)); err != nil {
		t.Fatalf("AddRawArchiveEntry: %v", err)
	}
	if err := sw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	ctx := context.Background()
	rr, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader(buf.Bytes())), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}
	got := rr.Entry("sealed.bin")
	if got == nil {
		t.Fatal("sealed.bin not found")
	}
	if rr.CanReadEntryData(got) {
		t.Error("CanReadEntryData should be false for an encrypted entry")
	}
	_, err = rr.InputStream(ctx, got)
	var unsupported *UnsupportedFeatureError
	if !errors.As(err, &unsupported) || unsupported.Kind != FeatureEncryption {
		t.Fatalf("InputStream error = %v, want UnsupportedFeatureError{FeatureEncryption}", err)
	}
}

func TestRandomAccessReader_UnknownArchiveIsMalformed(t *testing.T) {
	ctx := context.Background()
	_, err := OpenRandomAccessReader(ctx, IgnoreContext(bytes.NewReader([]byte("not a zip"))), 9)
	if err == nil {
		t.Fatal("expected error for non-archive input")
	}
}
