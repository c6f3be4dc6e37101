package program

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// imageBytes serializes words in the on-disk little-endian layout.
func imageBytes(words ...uint16) []byte {
	data := make([]byte, 0, len(words)*2)
	for _, w := range words {
		data = append(data, byte(w), byte(w>>8))
	}
	return data
}

// writeImage drops an image file into a temp dir and returns its path.
func writeImage(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write image file: %v", err)
	}
	return path
}

func TestDecodeLittleEndian(t *testing.T) {
	words := Decode([]byte{0x12, 0x34})

	if len(words) != 1 {
		t.Fatalf("expected 1 word, got %d", len(words))
	}
	if words[0] != 0x3412 {
		t.Errorf("expected word 0x3412, got %#x", words[0])
	}
}

func TestDecodePreservesRegisterEncodings(t *testing.T) {
	// 0x8000 = 32768 is a register reference; the loader must not
	// police it, only pair bytes.
	words := Decode([]byte{0x00, 0x80, 0xFF, 0xFF})

	if words[0] != 32768 {
		t.Errorf("expected word 32768, got %d", words[0])
	}
	if words[1] != 65535 {
		t.Errorf("expected word 65535, got %d", words[1])
	}
}

func TestDecodeOddTrailingByte(t *testing.T) {
	words := Decode([]byte{0x01, 0x02, 0x03})

	if len(words) != 1 {
		t.Fatalf("expected the trailing byte to be dropped, got %d words", len(words))
	}
	if words[0] != 0x0201 {
		t.Errorf("expected word 0x0201, got %#x", words[0])
	}
}

func TestDecodeEmpty(t *testing.T) {
	if words := Decode(nil); len(words) != 0 {
		t.Errorf("expected no words, got %d", len(words))
	}
}

func TestRead(t *testing.T) {
	data := imageBytes(19, 72, 19, 105, 0)

	words, err := Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	want := []uint16{19, 72, 19, 105, 0}
	if len(words) != len(want) {
		t.Fatalf("expected %d words, got %d", len(want), len(words))
	}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d: expected %d, got %d", i, want[i], words[i])
		}
	}
}

func TestOpenRawImage(t *testing.T) {
	data := imageBytes(19, 72, 0)
	path := writeImage(t, "hello.bin", data)

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if len(img.Words) != 3 || img.Words[0] != 19 || img.Words[1] != 72 {
		t.Errorf("unexpected words: %v", img.Words)
	}
	if img.Compressed {
		t.Error("raw image should not report compression")
	}
	if img.SizeBytes != len(data) {
		t.Errorf("expected size %d, got %d", len(data), img.SizeBytes)
	}
	if img.Checksum.IsZero() {
		t.Error("checksum should be computed")
	}
	if img.Path != path {
		t.Errorf("expected path %q, got %q", path, img.Path)
	}
}

func TestOpenCompressedImage(t *testing.T) {
	data := imageBytes(19, 72, 19, 105, 0)

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("failed to create zstd encoder: %v", err)
	}
	if _, err := enc.Write(data); err != nil {
		t.Fatalf("failed to compress image: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("failed to close encoder: %v", err)
	}

	path := writeImage(t, "hello.bin.zst", buf.Bytes())

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !img.Compressed {
		t.Error("expected the image to report compression")
	}
	if len(img.Words) != 5 || img.Words[3] != 105 {
		t.Errorf("unexpected words after decompression: %v", img.Words)
	}

	// The fingerprint covers the decompressed bytes, so raw and
	// compressed copies of the same program agree.
	if img.Checksum != ChecksumBytes(data) {
		t.Error("checksum should match the raw image checksum")
	}
	if img.SizeBytes != len(data) {
		t.Errorf("expected decompressed size %d, got %d", len(data), img.SizeBytes)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.bin"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpenEmptyImage(t *testing.T) {
	path := writeImage(t, "empty.bin", nil)

	_, err := Open(path)
	if err == nil {
		t.Fatal("expected error for empty image")
	}
	if !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
}

func TestVerifyChecksum(t *testing.T) {
	data := imageBytes(19, 72, 0)
	path := writeImage(t, "hello.bin", data)

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := img.VerifyChecksum(img.Checksum.String()); err != nil {
		t.Errorf("expected matching checksum to verify, got %v", err)
	}

	other := ChecksumBytes([]byte("something else"))
	err = img.VerifyChecksum(other.String())
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}

	if err := img.VerifyChecksum("!!not-base58!!"); err == nil {
		t.Error("expected error for malformed expected checksum")
	}
}
