package models

import "time"

// FolderLabel is keyed by the encoded folder path and shared by all users.
type FolderLabel struct {
	Path      string    `bson:"path" json:"path"`
	Tags      []string  `bson:"tags" json:"tags"`
	Color     string    `bson:"color,omitempty" json:"color,omitempty"`
	UpdatedBy string    `bson:"updatedBy,omitempty" json:"updated_by,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

type Favorite struct {
	ID        string    `bson:"-" json:"id"`
	UserID    string    `bson:"userId" json:"user_id"`
	Path      string    `bson:"path" json:"path"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}
