package metastore

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrDuplicateKey indicates a create violated a uniqueness constraint.
	// Always recoverable by the caller: treat as "already exists" and re-read.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrContentRepositoryNotFound indicates a content repository was not found
	ErrContentRepositoryNotFound = errors.New("content repository not found")

	// ErrComponentNotFound indicates a component was not found
	ErrComponentNotFound = errors.New("component not found")

	// ErrAssetNotFound indicates an asset was not found
	ErrAssetNotFound = errors.New("asset not found")

	// ErrAssetBlobNotFound indicates an asset blob was not found
	ErrAssetBlobNotFound = errors.New("asset blob not found")

	// ErrDetachedEntity indicates an operation needed an internal id on an
	// entity that has none and whose natural key cannot resolve one.
	ErrDetachedEntity = errors.New("entity does not have an internal id; is it detached?")
)

// MalformedBlobRefError reports an invalid persisted blob reference. It is
// an input-validation failure: the value is never silently defaulted.
type MalformedBlobRefError struct {
	Value  string
	Reason string
}

func (e *MalformedBlobRefError) Error() string {
	return fmt.Sprintf("malformed blob reference %q: %s", e.Value, e.Reason)
}

// StoreError wraps a failure of a named store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
