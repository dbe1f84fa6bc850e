package zipkit

import "testing"

func TestUSASCIIEncoding_EscapesUnmappableUmlauts(t *testing.T) {
	got := string(USASCIIEncoding.Encode("ä ö ü"))
	want := "%U00E4 %U00F6 %U00FC"
	if got != want {
		t.Fatalf("Encode(%q) = %q, want %q", "ä ö ü", got, want)
	}
}

func TestUSASCIIEncoding_EscapesSurrogatePair(t *testing.T) {
	// U+1F308 RAINBOW, encoded as the UTF-16 surrogate pair D83C DF08.
	rainbow := "\U0001F308"
	got := string(USASCIIEncoding.Encode(rainbow))
	want := "%UD83C%UDF08"
	if got != want {
		t.Fatalf("Encode(rainbow) = %q, want %q", got, want)
	}
}

func TestUTF16BEEncoding_EncodesSurrogatePairRaw(t *testing.T) {
	rainbow := "\U0001F308"
	got := UTF16BEEncoding.Encode(rainbow)
	want := []byte{0xD8, 0x3C, 0xDF, 0x08}
	if len(got) != len(want) {
		t.Fatalf("Encode(rainbow) = % x, want % x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Encode(rainbow) = % x, want % x", got, want)
		}
	}
}

func TestUSASCIIEncoding_IsolatedHighSurrogateEncodesEmpty(t *testing.T) {
	got := USASCIIEncoding.EncodeRunes([]rune{0xD83C})
	if len(got) != 0 {
		t.Fatalf("EncodeRunes(isolated high surrogate) = % x, want empty", got)
	}
}

func TestSelectEncoding_UTF8FlagOverridesDefault(t *testing.T) {
	var gpb GeneralPurposeBit
	gpb = gpb.WithUTF8(true)
	if got := selectEncoding(gpb, CP437Encoding); got != UTF8Encoding {
		t.Fatal("expected UTF-8 flag to force UTF8Encoding regardless of archive default")
	}
	gpb = gpb.WithUTF8(false)
	if got := selectEncoding(gpb, CP437Encoding); got != CP437Encoding {
		t.Fatal("expected archive default to apply when UTF-8 flag is clear")
	}
}
