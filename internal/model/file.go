package model

import "time"

// FileObject describes one uploaded blob as reported by the blob store.
// Ownership is not stored: it is implied by the users/<prefix>/ segment of
// the key.
//
// Fields:
//
//	Key          – full object key, users/<prefix>/<stamp>_<file name>.
//	Name         – the original file name (last key segment without stamp).
//	Size         – object size in bytes.
//	LastModified – store-reported modification time.
type FileObject struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// DownloadLink is a short-lived capability URL for a single object.
type DownloadLink struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
