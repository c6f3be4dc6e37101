package program

import "testing"

func TestChecksumDeterministic(t *testing.T) {
	a := ChecksumBytes([]byte("program one"))
	b := ChecksumBytes([]byte("program one"))
	c := ChecksumBytes([]byte("program two"))

	if a != b {
		t.Error("same bytes should produce the same checksum")
	}
	if a == c {
		t.Error("different bytes should produce different checksums")
	}
}

func TestChecksumBase58RoundTrip(t *testing.T) {
	c := ChecksumBytes([]byte("round trip"))

	decoded, err := ChecksumFromBase58(c.String())
	if err != nil {
		t.Fatalf("ChecksumFromBase58 failed: %v", err)
	}
	if decoded != c {
		t.Errorf("expected %s, got %s", c, decoded)
	}
}

func TestChecksumFromBase58Invalid(t *testing.T) {
	if _, err := ChecksumFromBase58("0OIl"); err == nil {
		t.Error("expected error for invalid base58 characters")
	}

	// Valid base58 but not 32 bytes of payload
	if _, err := ChecksumFromBase58("abc"); err == nil {
		t.Error("expected error for short checksum")
	}
}

func TestChecksumIsZero(t *testing.T) {
	if !ZeroChecksum.IsZero() {
		t.Error("ZeroChecksum should report zero")
	}
	if ChecksumBytes([]byte("x")).IsZero() {
		t.Error("a computed checksum should not report zero")
	}
}

func TestChecksumHex(t *testing.T) {
	c := ChecksumBytes([]byte("hex"))

	if len(c.Hex()) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(c.Hex()))
	}
	if len(c.Bytes()) != 32 {
		t.Errorf("expected 32 bytes, got %d", len(c.Bytes()))
	}
}
