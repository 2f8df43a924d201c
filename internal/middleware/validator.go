package middleware

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

// ValidateMimeType checks the upload content type against the allowed list.
func ValidateMimeType(mimeType string, allowed []string) error {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	for _, a := range allowed {
		if mt == strings.ToLower(a) {
			return nil
		}
	}
	return fmt.Errorf("unsupported file type: %s", mimeType)
}

// ValidateFileSize rejects empty uploads and uploads over the limit.
func ValidateFileSize(size, maxSize int64) error {
	if size <= 0 {
		return fmt.Errorf("empty file")
	}
	if size > maxSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", size, maxSize)
	}
	return nil
}

// ValidateFilename blocks traversal and control characters in upload names.
func ValidateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if len(name) > 500 {
		return fmt.Errorf("filename too long")
	}
	cleaned := filepath.Base(filepath.Clean(name))
	if cleaned != name || strings.Contains(name, "..") {
		return fmt.Errorf("invalid filename")
	}
	for _, r := range name {
		if r < 32 {
			return fmt.Errorf("invalid characters in filename")
		}
	}
	return nil
}

// ValidateUUID checks that an id path/body parameter is a well-formed UUID.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid id format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidatePageSize clamps pagination size
func ValidatePageSize(size int) int {
	if size <= 0 {
		return 20
	}
	if size > 100 {
		return 100
	}
	return size
}

// ValidatePage clamps page number
func ValidatePage(page int) int {
	if page <= 0 {
		return 1
	}
	return page
}
