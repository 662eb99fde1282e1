package server

import (
	"bytes"
	"testing"
)

func TestEncodeHex(t *testing.T) {
	got := EncodeHex([]byte{0x0a, 0x1b, 0x00, 0xff})
	if want := "0x0a 0x1b 0x00 0xff"; got != want {
		t.Errorf("EncodeHex = %q, want %q", got, want)
	}
	if got := EncodeHex(nil); got != "" {
		t.Errorf("EncodeHex(nil) = %q, want empty", got)
	}
}

func TestDecodeHexRoundTrip(t *testing.T) {
	code := make([]byte, 256)
	for i := range code {
		code[i] = byte(i)
	}
	got, err := DecodeHex(EncodeHex(code))
	if err != nil {
		t.Fatalf("DecodeHex: %v", err)
	}
	if !bytes.Equal(got, code) {
		t.Error("round trip changed the bytes")
	}
}

func TestDecodeHexLenient(t *testing.T) {
	got, err := DecodeHex("  0xA \n\t0X0b 0x1\n")
	if err != nil {
		t.Fatalf("DecodeHex: %v", err)
	}
	if !bytes.Equal(got, []byte{0x0a, 0x0b, 0x01}) {
		t.Errorf("DecodeHex = %v", got)
	}
}

func TestDecodeHexRejects(t *testing.T) {
	for _, s := range []string{
		"0x",
		"0x123",
		"12",
		"0xzz",
		"0x01 ab",
		"0x-1",
		"0x0a,0x0b",
	} {
		if _, err := DecodeHex(s); err == nil {
			t.Errorf("DecodeHex(%q) succeeded, want an error", s)
		}
	}
}
