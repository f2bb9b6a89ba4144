package models

import (
	"strings"
	"time"
)

type OCRStatus string

const (
	OCRStatusPending OCRStatus = "pending"
	OCRStatusDone    OCRStatus = "done"
	OCRStatusError   OCRStatus = "error"
)

// FileEntry is the metadata document written once an upload lands in the
// object store. FullPath is the object key and the only link back to the blob.
type FileEntry struct {
	ID          string            `bson:"-" json:"id"`
	Name        string            `bson:"name" json:"name"`
	ParentPath  string            `bson:"parentPath" json:"parent_path"`
	FullPath    string            `bson:"fullPath" json:"full_path"`
	Size        int64             `bson:"size" json:"size"`
	ContentType string            `bson:"contentType" json:"content_type"`
	UploadedAt  time.Time         `bson:"uploadedAt" json:"uploaded_at"`
	UploadedBy  string            `bson:"uploadedBy" json:"uploaded_by"`
	Tags        map[string]string `bson:"tags,omitempty" json:"tags,omitempty"`
	OCRStatus   OCRStatus         `bson:"ocrStatus,omitempty" json:"ocr_status,omitempty"`
	UpdatedAt   *time.Time        `bson:"updatedAt,omitempty" json:"updated_at,omitempty"`
}

func (f *FileEntry) IsImage() bool {
	return strings.HasPrefix(f.ContentType, "image/")
}
