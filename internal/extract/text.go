package extract

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// extractTextFile reads a plaintext file. Invalid UTF-8 sequences are
// replaced so downstream chunking and indexing always see valid text.
func extractTextFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file; %w", err)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}
