package codec

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitJoinRoundTrip(t *testing.T) {
	texts := []string{
		"",
		"a",
		"abcdef",
		"héllo wörld",
		strings.Repeat("0123456789", 1000),
		randomPrintable(12345, 3),
	}
	chunkSizes := []int{1, 2, 3, 7, 64, 1000, 90000}

	for _, text := range texts {
		for _, chunkSize := range chunkSizes {
			chunks, err := Split(text, chunkSize)
			if err != nil {
				t.Fatalf("split(%d) failed: %v", chunkSize, err)
			}
			for index, chunk := range chunks {
				if utf8.RuneCountInString(chunk) > chunkSize {
					t.Fatalf("chunk %d exceeds %d characters", index, chunkSize)
				}
				if index < len(chunks)-1 && utf8.RuneCountInString(chunk) != chunkSize {
					t.Fatalf("non-final chunk %d has %d characters, want %d", index, utf8.RuneCountInString(chunk), chunkSize)
				}
			}
			joined, err := Join(Indexed(chunks), len(chunks))
			if err != nil {
				t.Fatalf("join failed: %v", err)
			}
			if joined != text {
				t.Fatalf("join(split(text, %d)) mismatch", chunkSize)
			}
		}
	}
}

func TestSplitChunkCount(t *testing.T) {
	chunks, err := Split(strings.Repeat("x", 10), 3)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if chunks[3] != "x" {
		t.Fatalf("expected short final chunk, got %q", chunks[3])
	}
}

func TestSplitRejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		if _, err := Split("abc", size); !errors.Is(err, ErrInvalidChunkSize) {
			t.Fatalf("expected ErrInvalidChunkSize for %d, got %v", size, err)
		}
	}
}

func TestJoinFailsOnAnyMissingChunk(t *testing.T) {
	chunks, err := Split("abcdefghij", 2)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	for missing := range chunks {
		parts := Indexed(chunks)
		delete(parts, missing)
		if _, err := Join(parts, len(chunks)); !errors.Is(err, ErrMissingChunk) {
			t.Fatalf("expected ErrMissingChunk when index %d absent, got %v", missing, err)
		}
	}
}
