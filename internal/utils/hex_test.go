package utils

import "testing"

func TestHex4(t *testing.T) {
	tests := map[uint16]string{0xFEAA: "FEAA", 0x0001: "0001", 0xFFFF: "FFFF"}
	for in, want := range tests {
		if got := Hex4(in); got != want {
			t.Errorf("Hex4(0x%X) = %q, want %q", in, got, want)
		}
	}
}

func TestBytesToHex(t *testing.T) {
	got := BytesToHex([]byte{0x20, 0x00, 0x05, 0xCD, 0x17, 0x80})
	if want := "200005CD1780"; got != want {
		t.Errorf("BytesToHex() = %q, want %q", got, want)
	}
	if got := BytesToHex(nil); got != "" {
		t.Errorf("BytesToHex(nil) = %q, want empty", got)
	}
}
