package models

import "time"

// Snapshot represents one persisted revision of a source's timeline
type Snapshot struct {
	SourceKey string    `json:"sourceKey"` // Source this snapshot belongs to
	Revision  uint64    `json:"revision"`  // Monotonic revision number
	FilePath  string    `json:"filePath"`  // Path inside the storage backend
	FileSize  int64     `json:"fileSize"`  // Size in bytes
	CreatedAt time.Time `json:"createdAt"` // When the snapshot was written
}
