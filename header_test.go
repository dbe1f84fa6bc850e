package zipkit

import (
	"bytes"
	"testing"
)

func TestLocalFileHeader_RoundTrip(t *testing.T) {
	h := &LocalFileHeader{
		ReaderVersion:    zipVersion20,
		Method:           8,
		ModTime:          0x1234,
		ModDate:          0x5678,
		CRC32:            0xdeadbeef,
		CompressedSize:   10,
		UncompressedSize: 20,
		NameBytes:        []byte("hello.txt"),
		ExtraBytes:       []byte{0x01, 0x02},
	}
	h.GPBFlag = h.GPBFlag.WithUTF8(true)

	var buf bytes.Buffer
	if err := EncodeLocalFileHeader(&buf, h); err != nil {
		t.Fatalf("EncodeLocalFileHeader: %v", err)
	}

	got, err := ParseLocalFileHeader(&buf)
	if err != nil {
		t.Fatalf("ParseLocalFileHeader: %v", err)
	}
	if got.Method != h.Method || got.CRC32 != h.CRC32 || got.CompressedSize != h.CompressedSize {
		t.Fatalf("got %+v, want fields matching %+v", got, h)
	}
	if string(got.NameBytes) != "hello.txt" {
		t.Fatalf("NameBytes = %q, want %q", got.NameBytes, "hello.txt")
	}
	if !bytes.Equal(got.ExtraBytes, h.ExtraBytes) {
		t.Fatalf("ExtraBytes = % x, want % x", got.ExtraBytes, h.ExtraBytes)
	}
	if !got.GPBFlag.UsesUTF8() {
		t.Fatal("expected UTF-8 GPB bit to survive round trip")
	}
}

func TestParseLocalFileHeader_BadSignature(t *testing.T) {
	var buf [localFileHeaderFixedLen]byte
	_, err := ParseLocalFileHeader(bytes.NewReader(buf[:]))
	if err == nil {
		t.Fatal("expected error for all-zero signature")
	}
}

func TestParseLocalFileHeader_Truncated(t *testing.T) {
	_, err := ParseLocalFileHeader(bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected truncated error on empty reader")
	}
}

func TestCentralDirectoryHeader_RoundTrip(t *testing.T) {
	h := &CentralDirectoryHeader{
		CreatorVersion:    creatorUnix<<8 | zipVersion20,
		ReaderVersion:     zipVersion20,
		Method:            8,
		CRC32:             0x12345678,
		CompressedSize:    100,
		UncompressedSize:  200,
		ExternalAttrs:     0x81a40000,
		LocalHeaderOffset: 42,
		NameBytes:         []byte("dir/file.bin"),
		ExtraBytes:        []byte{0x55, 0x55, 0x00, 0x00},
		CommentBytes:      []byte("a comment"),
	}

	var buf bytes.Buffer
	if err := EncodeCentralDirectoryHeader(&buf, h); err != nil {
		t.Fatalf("EncodeCentralDirectoryHeader: %v", err)
	}
	got, err := ParseCentralDirectoryHeader(&buf)
	if err != nil {
		t.Fatalf("ParseCentralDirectoryHeader: %v", err)
	}
	if got.ExternalAttrs != h.ExternalAttrs || got.LocalHeaderOffset != h.LocalHeaderOffset {
		t.Fatalf("got %+v, want fields matching %+v", got, h)
	}
	if string(got.CommentBytes) != "a comment" {
		t.Fatalf("CommentBytes = %q, want %q", got.CommentBytes, "a comment")
	}
}

func TestResolveSizes_NoZip64Needed(t *testing.T) {
	comp, uncomp, offset, disk, err := ResolveSizes(10, 20, 30, 0, nil)
	if err != nil {
		t.Fatalf("ResolveSizes: %v", err)
	}
	if comp != 10 || uncomp != 20 || offset != 30 || disk != 0 {
		t.Fatalf("got (%d,%d,%d,%d), want (10,20,30,0)", comp, uncomp, offset, disk)
	}
}

func TestResolveSizes_SaturatedWithoutZip64Extra(t *testing.T) {
	_, _, _, _, err := ResolveSizes(0xffffffff, 20, 30, 0, nil)
	if err == nil {
		t.Fatal("expected error when zip64 sizes saturated but no Zip64Extra present")
	}
}

func TestResolveSizes_SaturatedResolvedFromZip64Extra(t *testing.T) {
	bigUncomp := uint64(1 << 33)
	bigComp := uint64(1 << 32)
	bigOffset := uint64(1 << 40)
	z64 := &Zip64Extra{
		UncompressedSize: &bigUncomp,
		CompressedSize:   &bigComp,
		LocalHeaderOffset: &bigOffset,
	}
	comp, uncomp, offset, _, err := ResolveSizes(0xffffffff, 0xffffffff, 0xffffffff, 0, z64)
	if err != nil {
		t.Fatalf("ResolveSizes: %v", err)
	}
	if comp != bigComp || uncomp != bigUncomp || offset != bigOffset {
		t.Fatalf("got (%d,%d,%d), want (%d,%d,%d)", comp, uncomp, offset, bigComp, bigUncomp, bigOffset)
	}
}

func TestDataDescriptor_RoundTrip32(t *testing.T) {
	dd := &DataDescriptor{CRC32: 0xabcdef01, CompressedSize: 111, UncompressedSize: 222}
	var buf bytes.Buffer
	if err := EncodeDataDescriptor(&buf, dd); err != nil {
		t.Fatalf("EncodeDataDescriptor: %v", err)
	}
	got, err := ParseDataDescriptor(&buf, false, false)
	if err != nil {
		t.Fatalf("ParseDataDescriptor: %v", err)
	}
	if got.CRC32 != dd.CRC32 || got.CompressedSize != dd.CompressedSize || got.UncompressedSize != dd.UncompressedSize {
		t.Fatalf("got %+v, want %+v", got, dd)
	}
}

func TestDataDescriptor_RoundTrip64(t *testing.T) {
	dd := &DataDescriptor{CRC32: 0x1, CompressedSize: 1 << 33, UncompressedSize: 1 << 34, Zip64: true}
	var buf bytes.Buffer
	if err := EncodeDataDescriptor(&buf, dd); err != nil {
		t.Fatalf("EncodeDataDescriptor: %v", err)
	}
	got, err := ParseDataDescriptor(&buf, true, false)
	if err != nil {
		t.Fatalf("ParseDataDescriptor: %v", err)
	}
	if got.CompressedSize != dd.CompressedSize || got.UncompressedSize != dd.UncompressedSize {
		t.Fatalf("got %+v, want %+v", got, dd)
	}
}

func TestDataDescriptor_SignatureOptional(t *testing.T) {
	dd := &DataDescriptor{CRC32: 7, CompressedSize: 8, UncompressedSize: 9}
	var buf bytes.Buffer
	raw := make([]byte, 12)
	b := writeBuf(raw)
	b.uint32(dd.CRC32)
	b.uint32(uint32(dd.CompressedSize))
	b.uint32(uint32(dd.UncompressedSize))
	buf.Write(raw)

	got, err := ParseDataDescriptor(&buf, false, false)
	if err != nil {
		t.Fatalf("ParseDataDescriptor without signature: %v", err)
	}
	if got.CRC32 != dd.CRC32 {
		t.Fatalf("CRC32 = %#x, want %#x", got.CRC32, dd.CRC32)
	}
}

func TestEOCDRecord_RoundTrip(t *testing.T) {
	e := &EOCDRecord{
		EntriesThisDisk:  3,
		EntriesTotal:     3,
		CentralDirSize:   123,
		CentralDirOffset: 456,
		Comment:          []byte("archive comment"),
	}
	var buf bytes.Buffer
	if err := EncodeEOCD(&buf, e); err != nil {
		t.Fatalf("EncodeEOCD: %v", err)
	}
	got, err := ParseEOCD(&buf)
	if err != nil {
		t.Fatalf("ParseEOCD: %v", err)
	}
	if got.EntriesTotal != e.EntriesTotal || got.CentralDirOffset != e.CentralDirOffset {
		t.Fatalf("got %+v, want %+v", got, e)
	}
	if string(got.Comment) != "archive comment" {
		t.Fatalf("Comment = %q, want %q", got.Comment, "archive comment")
	}
}

func TestZip64EOCDLocator_RoundTrip(t *testing.T) {
	l := &Zip64EOCDLocator{CentralDirDisk: 1, EOCDOffset: 99999999999, TotalDisks: 2}
	var buf bytes.Buffer
	if err := EncodeZip64EOCDLocator(&buf, l); err != nil {
		t.Fatalf("EncodeZip64EOCDLocator: %v", err)
	}
	got, err := ParseZip64EOCDLocator(&buf)
	if err != nil {
		t.Fatalf("ParseZip64EOCDLocator: %v", err)
	}
	if got.EOCDOffset != l.EOCDOffset || got.TotalDisks != l.TotalDisks {
		t.Fatalf("got %+v, want %+v", got, l)
	}
}

func TestZip64EOCDRecord_RoundTripWithExtensibleData(t *testing.T) {
	rec := &Zip64EOCDRecord{
		VersionMadeBy:    zipVersion45,
		VersionNeeded:    zipVersion45,
		EntriesThisDisk:  10,
		EntriesTotal:     10,
		CentralDirSize:   1 << 40,
		CentralDirOffset: 1 << 41,
		ExtensibleData:   []byte{0xAA, 0xBB, 0xCC},
	}
	var buf bytes.Buffer
	if err := EncodeZip64EOCDRecord(&buf, rec); err != nil {
		t.Fatalf("EncodeZip64EOCDRecord: %v", err)
	}
	got, err := ParseZip64EOCDRecord(&buf)
	if err != nil {
		t.Fatalf("ParseZip64EOCDRecord: %v", err)
	}
	if got.CentralDirSize != rec.CentralDirSize || got.CentralDirOffset != rec.CentralDirOffset {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
	if !bytes.Equal(got.ExtensibleData, rec.ExtensibleData) {
		t.Fatalf("ExtensibleData = % x, want % x", got.ExtensibleData, rec.ExtensibleData)
	}
}

func TestParseZip64EOCDRecord_SizeShorterThanFixedPortion(t *testing.T) {
	var fixed [zip64EOCDRecordFixedLen]byte
	b := writeBuf(fixed[:])
	b.uint32(sigZip64EOCDRecord)
	b.uint64(1) // size field far too small
	_, err := ParseZip64EOCDRecord(bytes.NewReader(fixed[:]))
	if err == nil {
		t.Fatal("expected error when size field is shorter than the fixed portion")
	}
}
