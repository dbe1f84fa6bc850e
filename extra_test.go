package zipkit

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
)

func TestAsiExtraField_RoundTrip(t *testing.T) {
	f := &AsiExtraField{Mode: s_IFREG | 0123, UID: 5, GID: 6}
	payload := f.payload()
	if len(payload) != 14 {
		t.Fatalf("payload length = %d, want 14", len(payload))
	}
	crcBuf := readBuf(payload[:4])
	gotCRC := crcBuf.uint32()
	if gotCRC != 0xB67802C6 {
		t.Fatalf("CRC = %#x, want 0xB67802C6", gotCRC)
	}
	wantTail := []byte{0x53, 0x80, 0, 0, 0, 0, 5, 0, 6, 0}
	if !bytes.Equal(payload[4:], wantTail) {
		t.Fatalf("tail = % x, want % x", payload[4:], wantTail)
	}

	f.Mode = s_IFLNK | 0123
	f.LinkName = "test"
	payload = f.payload()
	if len(payload) != 18 {
		t.Fatalf("payload length with link = %d, want 18", len(payload))
	}
	crcBuf2 := readBuf(payload[:4])
	gotCRC = crcBuf2.uint32()
	if gotCRC != 0xFD418E75 {
		t.Fatalf("CRC with link = %#x, want 0xFD418E75", gotCRC)
	}
	if payload[5] != 0xA0 {
		t.Fatalf("mode high byte = %#x, want 0xA0", payload[5])
	}
}

func TestAsiExtraField_BadCRC(t *testing.T) {
	f := &AsiExtraField{Mode: s_IFREG | 0123, UID: 5, GID: 6}
	payload := f.payload()
	corrupted := append([]byte(nil), payload...)
	corrupted[0], corrupted[1], corrupted[2], corrupted[3] = 0, 0, 0, 0

	_, err := parseAsiExtra(idAsi, true, corrupted)
	if err == nil {
		t.Fatal("expected an error for corrupted CRC")
	}
	var crcErr *ChecksumError
	if !errors.As(err, &crcErr) {
		t.Fatalf("error = %v (%T), want *ChecksumError", err, err)
	}
	wantMsg := "Bad CRC checksum, expected 0 instead of b67802c6"
	if crcErr.Error() != wantMsg {
		t.Fatalf("error = %q, want %q", crcErr.Error(), wantMsg)
	}
}

func TestRegistryParse_ParserErrorKeepsItsOwnMessage(t *testing.T) {
	f := &AsiExtraField{Mode: s_IFREG | 0123, UID: 5, GID: 6}
	payload := f.payload()
	payload[0], payload[1], payload[2], payload[3] = 0, 0, 0, 0

	_, err := DefaultRegistry().Parse(rawIDLen(idAsi, payload), true, PolicyStrict)
	var crcErr *ChecksumError
	if !errors.As(err, &crcErr) {
		t.Fatalf("Parse error = %v (%T), want *ChecksumError", err, err)
	}
	wantMsg := "Bad CRC checksum, expected 0 instead of b67802c6"
	if crcErr.Error() != wantMsg {
		t.Fatalf("error = %q, want %q", crcErr.Error(), wantMsg)
	}
}

func TestRegistryParse_PanickingParserIsWrapped(t *testing.T) {
	reg := NewExtraFieldRegistry()
	reg.Register(0x1234, func(_ uint16, _ bool, payload []byte) (ExtraField, error) {
		_ = payload[99] // out-of-bounds fault
		return nil, nil
	})

	_, err := reg.Parse(rawIDLen(0x1234, []byte{0x01}), true, PolicyStrict)
	if err == nil {
		t.Fatal("expected an error from the panicking parser")
	}
	want := "Failed to parse corrupt ZIP extra field of type 1234"
	if err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}
}

func TestExtraFieldRegistry_MergeAndTruncationPolicies(t *testing.T) {
	asi := &AsiExtraField{Mode: s_IFDIR | 0755}
	asiBytes := asi.EncodeLocal()

	unrecognized := []byte{0x55, 0x55, 0x01, 0x00, 0x00}
	full := append(append([]byte(nil), asiBytes...), unrecognized...)

	reg := DefaultRegistry()

	fields, err := reg.Parse(full, true, PolicyStrict)
	if err != nil {
		t.Fatalf("Parse(full): %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("len(fields) = %d, want 2", len(fields))
	}
	gotAsi, ok := fields[0].(*AsiExtraField)
	if !ok {
		t.Fatalf("fields[0] = %T, want *AsiExtraField", fields[0])
	}
	if gotAsi.Mode != 040755 {
		t.Fatalf("Mode = %#o, want 040755", gotAsi.Mode)
	}
	gotUnrecognized, ok := fields[1].(*UnrecognizedExtraField)
	if !ok {
		t.Fatalf("fields[1] = %T, want *UnrecognizedExtraField", fields[1])
	}
	if len(gotUnrecognized.Local) != 1 {
		t.Fatalf("len(Local) = %d, want 1", len(gotUnrecognized.Local))
	}

	truncated := full[:len(full)-1]
	start := len(asiBytes)

	_, err = reg.Parse(truncated, true, PolicyStrict)
	if err == nil {
		t.Fatal("expected PolicyStrict to fail on truncated trailing field")
	}
	wantMsg := "Bad extra field starting at " + strconv.Itoa(start) + ". Block length of 1 bytes exceeds remaining data of 0 bytes."
	if err.Error() != wantMsg {
		t.Fatalf("error = %q, want %q", err.Error(), wantMsg)
	}

	readFields, err := reg.Parse(truncated, true, PolicyRead)
	if err != nil {
		t.Fatalf("Parse(truncated, READ): %v", err)
	}
	if len(readFields) != 2 {
		t.Fatalf("PolicyRead: len(fields) = %d, want 2", len(readFields))
	}
	sentinel, ok := readFields[1].(*UnparseableExtraFieldData)
	if !ok {
		t.Fatalf("PolicyRead fields[1] = %T, want *UnparseableExtraFieldData", readFields[1])
	}
	if len(sentinel.Raw) != 4 {
		t.Fatalf("PolicyRead sentinel length = %d, want 4", len(sentinel.Raw))
	}

	skipFields, err := reg.Parse(truncated, true, PolicySkip)
	if err != nil {
		t.Fatalf("Parse(truncated, SKIP): %v", err)
	}
	if len(skipFields) != 1 {
		t.Fatalf("PolicySkip: len(fields) = %d, want 1", len(skipFields))
	}
}

func TestNewUnixExtra_RoundTripAndTrimming(t *testing.T) {
	f := &NewUnixExtra{UID: 4294967294, GID: 4294967294}
	payload := f.payload()
	want := []byte{0x01, 0x04, 0xFE, 0xFF, 0xFF, 0xFF, 0x04, 0xFE, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = % x, want % x", payload, want)
	}

	parsed, err := parseNewUnixExtra(idNewUnix, true, payload)
	if err != nil {
		t.Fatalf("parseNewUnixExtra: %v", err)
	}
	nu, ok := parsed.(*NewUnixExtra)
	if !ok {
		t.Fatalf("parsed type = %T, want *NewUnixExtra", parsed)
	}
	if nu.UID != 4294967294 || nu.GID != 4294967294 {
		t.Fatalf("UID/GID = %d/%d, want 4294967294/4294967294", nu.UID, nu.GID)
	}
}

func TestNewUnixExtra_SpuriousLeadingZerosTrimOnReencode(t *testing.T) {
	input := []byte{0x01, 0x04, 0xFF, 0x00, 0x00, 0x00, 0x04, 0x80, 0x00, 0x00, 0x00}
	parsed, err := parseNewUnixExtra(idNewUnix, true, input)
	if err != nil {
		t.Fatalf("parseNewUnixExtra: %v", err)
	}
	nu := parsed.(*NewUnixExtra)
	if nu.UID != 255 || nu.GID != 128 {
		t.Fatalf("UID/GID = %d/%d, want 255/128", nu.UID, nu.GID)
	}

	want := []byte{0x01, 0x01, 0xFF, 0x01, 0x80}
	if got := nu.payload(); !bytes.Equal(got, want) {
		t.Fatalf("re-encoded payload = % x, want % x", got, want)
	}
}
