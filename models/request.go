package models

import "time"

type RequestType string

const (
	RequestTypeDelete      RequestType = "delete"
	RequestTypeRename      RequestType = "rename"
	RequestTypeRoleUpgrade RequestType = "role-upgrade"
)

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusError    RequestStatus = "error"
)

func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected || s == RequestStatusError
}

// PendingRequest is a destructive operation deferred until an admin acts on it.
type PendingRequest struct {
	ID               string        `bson:"-" json:"id"`
	Type             RequestType   `bson:"type" json:"type"`
	TargetFileID     string        `bson:"targetFileId,omitempty" json:"target_file_id,omitempty"`
	TargetFolderPath string        `bson:"targetFolderPath,omitempty" json:"target_folder_path,omitempty"`
	TargetName       string        `bson:"targetName,omitempty" json:"target_name,omitempty"`
	NewName          string        `bson:"newName,omitempty" json:"new_name,omitempty"`
	RequestedRole    string        `bson:"requestedRole,omitempty" json:"requested_role,omitempty"`
	RequestedBy      string        `bson:"requestedBy" json:"requested_by"`
	RequestedAt      time.Time     `bson:"requestedAt" json:"requested_at"`
	Status           RequestStatus `bson:"status" json:"status"`
	AdminResponse    string        `bson:"adminResponse,omitempty" json:"admin_response,omitempty"`
	ProcessedBy      string        `bson:"processedBy,omitempty" json:"processed_by,omitempty"`
	ProcessedAt      *time.Time    `bson:"processedAt,omitempty" json:"processed_at,omitempty"`
}
