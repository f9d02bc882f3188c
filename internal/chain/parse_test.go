package chain

import "testing"

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress(" 0x1111111111111111111111111111111111111111 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Hex() != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("address mismatch: %s", addr.Hex())
	}

	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for short address")
	}
}

func TestParseOptionalAddress(t *testing.T) {
	_, ok, err := ParseOptionalAddress("  ")
	if err != nil || ok {
		t.Fatalf("empty input should be absent: ok=%v err=%v", ok, err)
	}
	if _, _, err := ParseOptionalAddress("nope"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}
