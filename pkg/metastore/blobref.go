package metastore

import "strings"

// BlobRef identifies content in the external blob store as a
// (node, store, blob-id) triple. The core never dereferences it.
type BlobRef struct {
	Node  string `json:"node"`
	Store string `json:"store"`
	Blob  string `json:"blob"`
}

// NewBlobRef builds a BlobRef from its three parts.
func NewBlobRef(node, store, blob string) BlobRef {
	return BlobRef{Node: node, Store: store, Blob: blob}
}

// Persisted returns the textual form stored in the database: "store@blob".
// The node is persisted as a separate column.
func (r BlobRef) Persisted() string {
	return r.Store + "@" + r.Blob
}

func (r BlobRef) String() string {
	return r.Persisted()
}

// IsZero reports whether the ref is entirely unset.
func (r BlobRef) IsZero() bool {
	return r == BlobRef{}
}

// ParseBlobRef reconstructs a BlobRef from the node column and the persisted
// "store@blob" form. Empty node, empty store, empty blob-id and empty
// overall string are all rejected before any row is written.
func ParseBlobRef(node, persisted string) (BlobRef, error) {
	if persisted == "" {
		return BlobRef{}, &MalformedBlobRefError{Value: persisted, Reason: "empty blob reference"}
	}
	if node == "" {
		return BlobRef{}, &MalformedBlobRefError{Value: persisted, Reason: "empty node segment"}
	}
	store, blob, found := strings.Cut(persisted, "@")
	if !found || store == "" {
		return BlobRef{}, &MalformedBlobRefError{Value: persisted, Reason: "empty store segment"}
	}
	if blob == "" {
		return BlobRef{}, &MalformedBlobRefError{Value: persisted, Reason: "empty blob-id segment"}
	}
	return BlobRef{Node: node, Store: store, Blob: blob}, nil
}
