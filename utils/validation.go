package utils

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct runs the validate tags of v.
func ValidateStruct(v interface{}) error {
	return Validator().Struct(v)
}

func ValidateFileSize(size, maxSize int64) error {
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("file size %d bytes exceeds maximum allowed size of %d bytes", size, maxSize)
	}
	return nil
}

func ValidateFileName(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	if len(filename) > 255 {
		return fmt.Errorf("filename too long (max 255 characters)")
	}

	if !utf8.ValidString(filename) {
		return fmt.Errorf("filename contains invalid UTF-8 characters")
	}

	// Check for invalid characters
	invalidChars := []string{"<", ">", ":", "\"", "|", "?", "*", "\x00", "/", "\\"}
	for _, char := range invalidChars {
		if strings.Contains(filename, char) {
			return fmt.Errorf("filename contains invalid character: %s", char)
		}
	}

	// Check for reserved names (Windows)
	reservedNames := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}
	nameWithoutExt := strings.TrimSuffix(filename, filepath.Ext(filename))
	for _, reserved := range reservedNames {
		if strings.EqualFold(nameWithoutExt, reserved) {
			return fmt.Errorf("filename uses reserved name: %s", reserved)
		}
	}
	return nil
}

// Folder validation
func ValidateFolderName(name string) error {
	if name == "" {
		return fmt.Errorf("folder name cannot be empty")
	}

	if len(name) > 255 {
		return fmt.Errorf("folder name too long (max 255 characters)")
	}

	if !utf8.ValidString(name) {
		return fmt.Errorf("folder name contains invalid UTF-8 characters")
	}

	invalidChars := []string{"<", ">", ":", "\"", "|", "?", "*", "\x00", "/", "\\"}
	for _, char := range invalidChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("folder name contains invalid character: %s", char)
		}
	}

	if strings.HasSuffix(name, ".") {
		return fmt.Errorf("folder name cannot end with a dot")
	}

	return nil
}

// ValidateRelativePath checks the relative path sent with a folder upload.
// The last segment is the file name.
func ValidateRelativePath(path string) error {
	if path == "" {
		return nil
	}

	path = strings.ReplaceAll(path, "\\", "/")

	if strings.Contains(path, "..") {
		return fmt.Errorf("relative path cannot contain '..' (parent directory references)")
	}

	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("relative path cannot start with '/'")
	}

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		check := ValidateFolderName
		if i == len(segments)-1 {
			check = ValidateFileName
		}
		if err := check(segment); err != nil {
			return fmt.Errorf("invalid path segment '%s': %v", segment, err)
		}
	}

	return nil
}
