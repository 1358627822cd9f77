package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidChunkSize indicates a chunk size below one character.
	ErrInvalidChunkSize = errors.New("codec: chunk size must be positive")
	// ErrMissingChunk indicates a gap in the chunk sequence handed to Join.
	ErrMissingChunk = errors.New("codec: missing chunk")
)

// Split cuts text into contiguous pieces of at most chunkSize characters.
// Empty text yields a single empty chunk so that a stored payload always has one chunk key.
func Split(text string, chunkSize int) ([]string, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	if text == "" {
		return []string{""}, nil
	}

	chunks := make([]string, 0, len(text)/chunkSize+1)
	start := 0
	count := 0
	for index := range text {
		if count == chunkSize {
			chunks = append(chunks, text[start:index])
			start = index
			count = 0
		}
		count++
	}
	chunks = append(chunks, text[start:])
	return chunks, nil
}

// Join concatenates parts[0..count-1] in order. Any absent index fails the whole join.
func Join(parts map[int]string, count int) (string, error) {
	var builder strings.Builder
	for index := 0; index < count; index++ {
		part, ok := parts[index]
		if !ok {
			return "", fmt.Errorf("%w: index %d of %d", ErrMissingChunk, index, count)
		}
		builder.WriteString(part)
	}
	return builder.String(), nil
}

// Indexed turns an ordered chunk list into the form Join expects.
func Indexed(chunks []string) map[int]string {
	parts := make(map[int]string, len(chunks))
	for index, chunk := range chunks {
		parts[index] = chunk
	}
	return parts
}
