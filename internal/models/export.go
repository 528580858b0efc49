package models

import "time"

// Export status values.
const (
	ExportStatusPending   = "pending"
	ExportStatusUploading = "uploading"
	ExportStatusComplete  = "complete"
	ExportStatusFailed    = "failed"
)

// Export tracks an asynchronous container filesystem export. The artifact is
// uploaded by the node agent to object storage and served through a
// time-limited download URL.
type Export struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ContainerID string    `json:"container_id"`
	ObjectKey   string    `json:"object_key"`
	Status      string    `json:"status"`
	SizeBytes   *int64    `json:"size_bytes"`
	DownloadURL *string   `json:"download_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	RequestedBy *int64    `json:"requested_by"`
	Error       *string   `json:"error"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
