package httpzip

import (
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zipkit-go/zipkit"
)

func buildTestArchive(t *testing.T) (*Archive, map[string][]byte) {
	t.Helper()
	contents := map[string][]byte{
		"hello.txt": []byte("hello, world\n"),
		"dir/":      nil,
		"dir/a.txt": []byte("a file inside a directory"),
	}

	var entries []*FileHeader
	for _, name := range []string{"hello.txt", "dir/", "dir/a.txt"} {
		h := NewFileHeader(name)
		h.Modified = time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)
		if data := contents[name]; data != nil {
			h.CRC32 = crc32.ChecksumIEEE(data)
			h.UncompressedSize = uint64(len(data))
			h.CompressedSize = uint64(len(data))
			h.Content = bytes.NewReader(data)
		}
		entries = append(entries, h)
	}

	ar, err := NewArchive(&Template{Entries: entries, Comment: "a test archive"})
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	return ar, contents
}

func TestNewArchive_RoundTrip(t *testing.T) {
	ar, contents := buildTestArchive(t)

	ctx := context.Background()
	rr, err := zipkit.OpenRandomAccessReader(ctx, zipkit.IgnoreContext(ar), ar.Size())
	if err != nil {
		t.Fatalf("OpenRandomAccessReader: %v", err)
	}

	names := map[string]bool{}
	for _, e := range rr.Entries() {
		names[e.Name] = true
		if e.IsDir() {
			continue
		}
		rc, err := rr.InputStream(ctx, e)
		if err != nil {
			t.Fatalf("InputStream(%s): %v", e.Name, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("reading %s: %v", e.Name, err)
		}
		want := contents[e.Name]
		if !bytes.Equal(got, want) {
			t.Errorf("%s: got %q, want %q", e.Name, got, want)
		}
	}
	for name := range contents {
		if !names[name] {
			t.Errorf("missing entry %q in round trip", name)
		}
	}
	if string(rr.Comment()) != "a test archive" {
		t.Errorf("comment = %q, want %q", rr.Comment(), "a test archive")
	}
}

func TestArchive_ServeHTTP(t *testing.T) {
	ar, _ := buildTestArchive(t)

	srv := httptest.NewServer(ar)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if int64(len(body)) != ar.Size() {
		t.Errorf("served %d bytes, archive is %d bytes", len(body), ar.Size())
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q, want application/zip", ct)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Range", "bytes=0-9")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("range GET: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusPartialContent {
		t.Errorf("range request status = %d, want 206", resp2.StatusCode)
	}
	ranged, _ := io.ReadAll(resp2.Body)
	if !bytes.Equal(ranged, body[:10]) {
		t.Errorf("ranged body = %q, want %q", ranged, body[:10])
	}
}

func TestNewArchive_CommentTooLong(t *testing.T) {
	_, err := NewArchive(&Template{Comment: string(make([]byte, 0x10000))})
	if err == nil {
		t.Fatal("expected error for over-long comment")
	}
}
