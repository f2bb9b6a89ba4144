package models

type UploadStatus string

const (
	UploadStatusQueued   UploadStatus = "queued"
	UploadStatusRunning  UploadStatus = "running"
	UploadStatusPaused   UploadStatus = "paused"
	UploadStatusDone     UploadStatus = "done"
	UploadStatusError    UploadStatus = "error"
	UploadStatusCanceled UploadStatus = "canceled"
)

func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusDone || s == UploadStatusError || s == UploadStatusCanceled
}

// UploadTask tracks one file of an upload batch. Key is the name or relative
// path the client sent; ObjectKey is where it landed after name resolution.
type UploadTask struct {
	Key              string       `json:"key"`
	ObjectKey        string       `json:"object_key"`
	FileID           string       `json:"file_id,omitempty"`
	Status           UploadStatus `json:"status"`
	BytesTransferred int64        `json:"bytes_transferred"`
	BytesTotal       int64        `json:"bytes_total"`
	Error            string       `json:"error,omitempty"`
}
