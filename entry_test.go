package zipkit

import (
	"os"
	"testing"
)

func TestEntry_IsDirAndBaseName(t *testing.T) {
	e := &Entry{Name: "a/b/c.txt"}
	if e.IsDir() {
		t.Fatal("file entry reported as dir")
	}
	if got := e.BaseName(); got != "c.txt" {
		t.Fatalf("BaseName() = %q, want %q", got, "c.txt")
	}

	dir := &Entry{Name: "a/b/"}
	if !dir.IsDir() {
		t.Fatal("trailing-slash entry not reported as dir")
	}
}

func TestFileModeToUnixMode_RoundTrip(t *testing.T) {
	cases := []os.FileMode{
		0644,
		os.ModeDir | 0755,
		os.ModeSymlink | 0777,
		os.ModeSetuid | 0755,
		os.ModeSetgid | 0755,
		os.ModeDir | os.ModeSticky | 0755,
	}
	for _, mode := range cases {
		unix := fileModeToUnixMode(mode)
		got := unixModeToFileMode(unix)
		if got.Perm() != mode.Perm() {
			t.Fatalf("mode %v: perm round trip = %v, want %v", mode, got.Perm(), mode.Perm())
		}
		if got&os.ModeType != mode&os.ModeType {
			t.Fatalf("mode %v: type bits round trip = %v, want %v", mode, got&os.ModeType, mode&os.ModeType)
		}
	}
}

func TestEntry_SetModeAndMode_Unix(t *testing.T) {
	e := &Entry{}
	e.SetMode(os.ModeDir | 0755)
	if e.CreatorVersion>>8 != creatorUnix {
		t.Fatalf("CreatorVersion platform = %d, want creatorUnix", e.CreatorVersion>>8)
	}
	e.Name = "dir/"
	got := e.Mode()
	if got&os.ModeDir == 0 {
		t.Fatalf("Mode() = %v, want ModeDir set", got)
	}
	if got.Perm() != 0755 {
		t.Fatalf("Mode().Perm() = %v, want 0755", got.Perm())
	}
}

func TestEntry_SetMode_ReadOnlyFileSetsMsdosBit(t *testing.T) {
	e := &Entry{}
	e.SetMode(0444)
	if e.ExternalAttrs&msdosReadOnly == 0 {
		t.Fatal("expected msdosReadOnly bit set for a mode with no write bits")
	}
}

func TestMsdosModeToFileMode(t *testing.T) {
	dir := msdosModeToFileMode(msdosDir)
	if dir&os.ModeDir == 0 {
		t.Fatalf("expected ModeDir for msdosDir bit, got %v", dir)
	}
	ro := msdosModeToFileMode(msdosReadOnly)
	if ro&0222 != 0 {
		t.Fatalf("expected no write bits for read-only file, got %v", ro.Perm())
	}
}

func TestEntry_NeedsZip64(t *testing.T) {
	e := &Entry{CompressedSize: 100, UncompressedSize: 200, LocalHeaderOffset: 300}
	if e.NeedsZip64() {
		t.Fatal("small entry should not need zip64")
	}
	e.UncompressedSize = uint32max
	if !e.NeedsZip64() {
		t.Fatal("entry with saturated uncompressed size should need zip64")
	}
}

func TestEntryFromCentralDirectoryHeader_ResolvesNameAndSizes(t *testing.T) {
	h := &CentralDirectoryHeader{
		CreatorVersion:    creatorUnix<<8 | zipVersion20,
		ReaderVersion:     zipVersion20,
		Method:            0,
		CRC32:             0x1,
		CompressedSize:    5,
		UncompressedSize:  5,
		NameBytes:         []byte("plain.txt"),
		CommentBytes:      []byte("a note"),
		ExtraBytes:        nil,
	}
	e, err := entryFromCentralDirectoryHeader(h, DefaultRegistry(), PolicyStrict, UTF8Encoding)
	if err != nil {
		t.Fatalf("entryFromCentralDirectoryHeader: %v", err)
	}
	if e.Name != "plain.txt" || e.Comment != "a note" {
		t.Fatalf("Name/Comment = %q/%q, want %q/%q", e.Name, e.Comment, "plain.txt", "a note")
	}
	if e.CompressedSize != 5 || e.UncompressedSize != 5 {
		t.Fatalf("sizes = %d/%d, want 5/5", e.CompressedSize, e.UncompressedSize)
	}
}

func TestResolveModTime_PrefersNTFSOverDOS(t *testing.T) {
	ntfsTime := msDosTimeToTime(0x5021, 0x5000).Add(1)
	fields := []ExtraField{&NTFSExtra{ModTime: &ntfsTime}}
	got := resolveModTime(0x5021, 0x5000, fields)
	if !got.Equal(ntfsTime) {
		t.Fatalf("resolveModTime = %v, want %v", got, ntfsTime)
	}
}

func TestResolveModTime_FallsBackToDOS(t *testing.T) {
	got := resolveModTime(0x5021, 0x5000, nil)
	want := msDosTimeToTime(0x5021, 0x5000)
	if !got.Equal(want) {
		t.Fatalf("resolveModTime = %v, want %v", got, want)
	}
}
