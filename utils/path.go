package utils

import (
	"encoding/base64"
	"path"
	"strings"
)

// RootPrefix is the single key prefix all user content lives under.
const RootPrefix = "files"

// RootPath is the normalized folder path of RootPrefix.
const RootPath = "/" + RootPrefix + "/"

// NormalizePath maps any user-supplied folder path onto the canonical
// "/files/<seg>/.../" form. It never fails: input that cannot be interpreted
// collapses to RootPath.
func NormalizePath(input string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(input), "\\", "/")

	var segments []string
	for _, segment := range strings.Split(cleaned, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." || segment == ".." {
			continue
		}
		segments = append(segments, segment)
	}

	if len(segments) > 0 && segments[0] == RootPrefix {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return RootPath
	}
	return RootPath + strings.Join(segments, "/") + "/"
}

// ToObjectKeyPrefix turns a folder path into the prefix used for listings.
func ToObjectKeyPrefix(folderPath string) string {
	return strings.Trim(NormalizePath(folderPath), "/")
}

// FromObjectKeyPrefix is the inverse of ToObjectKeyPrefix.
func FromObjectKeyPrefix(prefix string) string {
	return NormalizePath("/" + prefix + "/")
}

// ObjectKey builds the storage key of a file named name inside folderPath.
func ObjectKey(folderPath, name string) string {
	return ToObjectKeyPrefix(folderPath) + "/" + name
}

// SplitObjectKey returns the folder path and base name of an object key.
func SplitObjectKey(key string) (string, string) {
	key = strings.TrimPrefix(key, "/")
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return RootPath, key
	}
	return FromObjectKeyPrefix(key[:idx]), key[idx+1:]
}

// JoinFolder appends one or more relative segments to a folder path.
func JoinFolder(folderPath string, rel ...string) string {
	parts := append([]string{NormalizePath(folderPath)}, rel...)
	return NormalizePath(strings.Join(parts, "/"))
}

func ParentPath(folderPath string) string {
	normalized := NormalizePath(folderPath)
	if normalized == RootPath {
		return RootPath
	}
	trimmed := strings.TrimSuffix(normalized, "/")
	return NormalizePath(trimmed[:strings.LastIndex(trimmed, "/")+1])
}

// FolderName is the last segment of a folder path ("" for the root).
func FolderName(folderPath string) string {
	normalized := NormalizePath(folderPath)
	if normalized == RootPath {
		return ""
	}
	return path.Base(strings.TrimSuffix(normalized, "/"))
}

// IsSameOrWithin reports whether candidate equals folder or is nested below it.
func IsSameOrWithin(candidate, folder string) bool {
	return strings.HasPrefix(NormalizePath(candidate), NormalizePath(folder))
}

// IsContentKey reports whether key is a canonical object key below
// RootPrefix, such as "files/2024/receipt.pdf".
func IsContentKey(key string) bool {
	if !strings.HasPrefix(key, RootPrefix+"/") {
		return false
	}
	folder, name := SplitObjectKey(key)
	if name == "" || name == "." || name == ".." {
		return false
	}
	return ObjectKey(folder, name) == key
}

// SplitExt splits a file name into base and extension, keeping dot-files
// such as ".env" whole.
func SplitExt(name string) (string, string) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		return name, ""
	}
	return base, ext
}

// EncodePathKey produces a document id for path-keyed documents. Paths
// contain slashes which document stores do not allow in ids.
func EncodePathKey(folderPath string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(NormalizePath(folderPath)))
}

func DecodePathKey(key string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", err
	}
	return NormalizePath(string(raw)), nil
}
