package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ImageIDLength is the number of hex characters kept from a hashed image URL
// when the upstream payload does not carry its own media identifier.
const ImageIDLength = 8

// Post is a single upstream submission. ID and DiscoveredAt are immutable once
// stored; Score is refreshed on every ingestion pass, guarded by RefreshedAt.
type Post struct {
	ID           string
	Title        string
	Score        int64
	DiscoveredAt time.Time // set on first insert, never overwritten
	RefreshedAt  time.Time // last-write-wins guard for concurrent score refresh
}

// Comment is a top-level comment on a Post. Moderation-bot comments and
// deleted/removed bodies never reach this type; they are dropped at extraction.
type Comment struct {
	ID     string
	PostID string
	Body   string
	Score  int64
}

// ImageRef tracks one downloadable image belonging to a Post.
// Downloaded transitions false to true at most once; LocalPath is only set
// together with that transition.
type ImageRef struct {
	ID         string
	PostID     string
	URL        string
	Extension  string
	Downloaded bool
	LocalPath  string
}

// allowedExtensions is the closed set of image formats the pipeline stores and
// downloads. Anything else is dropped at extraction time.
var allowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"gif":  {},
	"webp": {},
}

// AllowedExtension reports whether ext (lowercase, without a leading dot) is
// one of the formats the pipeline accepts.
func AllowedExtension(ext string) bool {
	_, ok := allowedExtensions[ext]
	return ok
}

// ImageIDFromURL derives a stable identifier for an image URL.
// Identical URLs always produce identical IDs, so re-extraction of the same
// post cannot duplicate references.
func ImageIDFromURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:ImageIDLength]
}

// LocalFileName returns the deterministic on-disk name for a downloaded image.
func LocalFileName(ref ImageRef) string {
	return ref.PostID + "-" + ref.ID + "." + ref.Extension
}
