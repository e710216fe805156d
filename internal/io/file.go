// Package ioutils provides file system utilities for sgx-downloader.
//
// This package contains functions for:
//   - Filename sanitization
//   - Directory creation
//
// Downloaded files are named by the server through Content-Disposition
// headers, so names must be sanitized before they touch the file system.
package ioutils

import (
	"os"
	"regexp"
	"strings"
)

var (
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots = regexp.MustCompile(`\.+$`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// SanitizeFileName removes or replaces characters that are invalid in
// file/folder names.
//
// This function ensures filenames are valid across different operating
// systems, particularly Windows which has the most restrictive naming rules.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars 0x00-0x1f) → underscore
//   - Trailing dots → removed (Windows limitation)
//   - Multiple whitespace → single space
//   - Trailing whitespace → removed
//
// Example:
//
//	SanitizeFileName("WEBPXTICK_DT-20230821.zip") // unchanged
//	SanitizeFileName("../../etc/passwd")          // ".._.._etc_passwd" stays local
func SanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.TrimRight(name, " ")
	return name
}

// EnsureDir creates a directory and all parent directories if they don't
// exist.
//
// Directories are created with mode 0755 (rwxr-xr-x).
// If the directory already exists, no error is returned.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
