package models

import "time"

// FileEntry represents one immediate child of a listed directory.
// Listings are derived from the filesystem at call time, never cached.
type FileEntry struct {
	Name         string    `json:"name"`
	IsDirectory  bool      `json:"isDirectory"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	VirtualPath  string    `json:"virtualPath"`
}

// UploadSummary reports the outcome of a multipart upload. A failed part
// does not abort the others; partial success is a normal result.
type UploadSummary struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
