package codec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Encoding names the compression and text encoding produced by Encode.
const Encoding = "gzip+base64/v1"

var (
	// ErrCompression is matched by every CompressionError.
	ErrCompression = errors.New("codec: compression failed")
	// ErrDecompression is matched by every DecompressionError.
	ErrDecompression = errors.New("codec: decompression failed")
)

// CompressionError reports that the compressor rejected the input.
type CompressionError struct {
	Err error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCompression, e.Err)
}

func (e *CompressionError) Unwrap() []error {
	return []error{ErrCompression, e.Err}
}

// DecompressionError reports malformed encoded input.
type DecompressionError struct {
	Err error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecompression, e.Err)
}

func (e *DecompressionError) Unwrap() []error {
	return []error{ErrDecompression, e.Err}
}

// Encode gzips text and returns the compressed bytes as standard base64.
func Encode(text string) (string, error) {
	var buffer bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buffer, gzip.BestCompression)
	if err != nil {
		return "", &CompressionError{Err: err}
	}
	if _, err := io.WriteString(writer, text); err != nil {
		return "", &CompressionError{Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &CompressionError{Err: err}
	}
	return base64.StdEncoding.EncodeToString(buffer.Bytes()), nil
}

// Decode reverses Encode.
func Decode(encoded string) (string, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &DecompressionError{Err: err}
	}
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", &DecompressionError{Err: err}
	}
	defer reader.Close()

	plain, err := io.ReadAll(reader)
	if err != nil {
		return "", &DecompressionError{Err: err}
	}
	return string(plain), nil
}
