package store

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrPersistence wraps every failure of a Backend to read or write
	// durable storage.
	ErrPersistence = errors.New("persistence error")

	// ErrInvalidName is returned when a name is not usable as a single
	// file name inside the storage location.
	ErrInvalidName = errors.New("invalid file name")
)

// File is a stored record. Content is nil for files found at startup whose
// bytes are not valid UTF-8 text.
type File struct {
	Name    string
	Content *string
}

// FileInfo is the metadata-only view of a File used in listings.
type FileInfo struct {
	Name string `json:"name"`
}

func newFile(name string, b []byte) File {
	f := File{Name: name}
	if utf8.Valid(b) {
		s := string(b)
		f.Content = &s
	}
	return f
}

// SanitizeName reduces a client supplied name to its final path component,
// dropping any directory segments.
func SanitizeName(name string) string {
	return path.Base(name)
}

// ValidName reports whether name can be stored as-is.
func ValidName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
