package metastore

import (
	"time"

	"github.com/google/uuid"
)

// ContentRepository links an internal repository id to the external
// repository configuration entity. One row per managed repository.
type ContentRepository struct {
	RepositoryID       *int64         `json:"repository_id,omitempty"`
	ConfigRepositoryID uuid.UUID      `json:"config_repository_id"`
	Attributes         map[string]any `json:"attributes,omitempty"`
	Created            time.Time      `json:"created"`
	LastUpdated        time.Time      `json:"last_updated"`
}

// Component is a logical artifact identified by its coordinate
// (namespace, name, version) within a repository.
//
// EntityVersion is nil until the first structural change to the component or
// one of its assets, and only when entity versioning is enabled for the
// owning store. NormalizedVersion is a sortable normal form of Version used
// for version-aware ordering.
type Component struct {
	ComponentID       *int64         `json:"component_id,omitempty"`
	RepositoryID      int64          `json:"repository_id"`
	Namespace         string         `json:"namespace,omitempty"`
	Name              string         `json:"name"`
	Version           string         `json:"version,omitempty"`
	Kind              string         `json:"kind,omitempty"`
	NormalizedVersion string         `json:"normalized_version,omitempty"`
	Attributes        map[string]any `json:"attributes,omitempty"`
	EntityVersion     *int           `json:"entity_version,omitempty"`
	Created           time.Time      `json:"created"`
	LastUpdated       time.Time      `json:"last_updated"`
}

// Asset is an individual file/path within a repository. Assets may be
// component-less (ComponentID nil) and may exist before any blob is linked
// (AssetBlobID nil).
type Asset struct {
	AssetID        *int64         `json:"asset_id,omitempty"`
	RepositoryID   int64          `json:"repository_id"`
	ComponentID    *int64         `json:"component_id,omitempty"`
	Path           string         `json:"path"`
	Kind           string         `json:"kind,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	AssetBlobID    *int64         `json:"asset_blob_id,omitempty"`
	LastDownloaded *time.Time     `json:"last_downloaded,omitempty"`
	Created        time.Time      `json:"created"`
	LastUpdated    time.Time      `json:"last_updated"`

	// Populated by eager browses only; never persisted from here.
	Component *Component `json:"component,omitempty"`
	Blob      *AssetBlob `json:"blob,omitempty"`
}

// AssetBlob is an immutable record referencing content in the external blob
// store. It carries no bytes, only the opaque BlobRef plus descriptive
// metadata captured at creation. There is no update operation.
//
// AddedToRepository is distinct from BlobCreated: it records when the blob
// became associated with this repository and drives incremental-sync
// queries, which compare it at millisecond precision.
type AssetBlob struct {
	AssetBlobID       *int64            `json:"asset_blob_id,omitempty"`
	BlobRef           BlobRef           `json:"blob_ref"`
	BlobSize          int64             `json:"blob_size"`
	ContentType       string            `json:"content_type,omitempty"`
	Checksums         map[string]string `json:"checksums,omitempty"`
	BlobCreated       time.Time         `json:"blob_created"`
	AddedToRepository time.Time         `json:"added_to_repository"`
	CreatedBy         string            `json:"created_by,omitempty"`
	CreatedByIP       string            `json:"created_by_ip,omitempty"`
}

// BrowseNode is one row of the materialized path tree. A node may carry an
// asset id, a component id, or both when an asset and a component share the
// identical path; the row disappears only once both ids are cleared.
type BrowseNode struct {
	BrowseNodeID *int64 `json:"browse_node_id,omitempty"`
	RepositoryID int64  `json:"repository_id"`
	ParentID     *int64 `json:"parent_id,omitempty"`
	Path         string `json:"path"`
	Name         string `json:"name"`
	AssetID      *int64 `json:"asset_id,omitempty"`
	ComponentID  *int64 `json:"component_id,omitempty"`

	// Leaf is computed on query: true when the node carries an asset id, or
	// carries a component id at its own path with no children beneath it.
	Leaf bool `json:"leaf"`
}

// AssetInfo is the lightweight projection returned for bulk consumers that
// do not need full Asset rows.
type AssetInfo struct {
	AssetID     int64             `json:"asset_id"`
	Path        string            `json:"path"`
	ContentType string            `json:"content_type,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`
	Checksums   map[string]string `json:"checksums,omitempty"`
}
