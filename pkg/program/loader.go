// Package program loads challenge binary images for the virtual machine.
//
// An image is a headerless sequence of little-endian 16-bit words; word
// 0 of the file becomes memory address 0. Images may additionally be
// stored zstd-compressed, detected by the frame magic and decompressed
// transparently. Every loaded image is fingerprinted so a known-good
// binary can be pinned in configuration.
package program

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Loader errors.
var (
	// ErrEmptyImage is returned when an image file holds no bytes.
	ErrEmptyImage = errors.New("empty program image")

	// ErrChecksumMismatch is returned when an image does not match the
	// pinned checksum.
	ErrChecksumMismatch = errors.New("image checksum mismatch")
)

// zstdMagic is the zstd frame magic number in file order.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Image is a loaded program image.
type Image struct {
	// Words is the decoded memory image, word 0 first.
	Words []uint16

	// Checksum fingerprints the raw (decompressed) image bytes.
	Checksum Checksum

	// Path is the file the image was loaded from, if any.
	Path string

	// SizeBytes is the raw image size after decompression.
	SizeBytes int

	// Compressed reports whether the file was zstd-compressed.
	Compressed bool
}

// Decode pairs consecutive raw bytes as little-endian 16-bit words, low
// byte first. An odd trailing byte is dropped.
func Decode(data []byte) []uint16 {
	words := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		words = append(words, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return words
}

// Read consumes a byte stream and produces the initial memory image.
func Read(r io.Reader) ([]uint16, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return Decode(data), nil
}

// Open loads a program image from disk. A zstd-compressed file is
// decompressed transparently; the checksum always covers the
// decompressed bytes.
func Open(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	br := bufio.NewReader(file)

	compressed := false
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		compressed = true
	}

	var src io.Reader = br
	if compressed {
		decoder, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer decoder.Close()
		src = decoder
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyImage, path)
	}

	return &Image{
		Words:      Decode(data),
		Checksum:   ChecksumBytes(data),
		Path:       path,
		SizeBytes:  len(data),
		Compressed: compressed,
	}, nil
}

// VerifyChecksum compares the image fingerprint against an expected
// base58 digest.
func (img *Image) VerifyChecksum(expected string) error {
	want, err := ChecksumFromBase58(expected)
	if err != nil {
		return fmt.Errorf("invalid expected checksum: %w", err)
	}
	if img.Checksum != want {
		return fmt.Errorf("%w: have %s, want %s", ErrChecksumMismatch, img.Checksum, want)
	}
	return nil
}
