// Package metastore is the metadata system of record for artifact
// repositories: which components (namespace/name/version coordinates) and
// assets (paths) exist in each repository, which blob every asset currently
// points to, and a materialized browse tree used to navigate repository
// contents.
//
// The package exposes five store interfaces (content repositories,
// components, assets, asset blobs, browse nodes) aggregated into a single
// Repository. Implementations are provided under subpackages: repo/memory
// for hermetic use and tests, repo/postgres for production.
//
// Blob bytes are never read or written here. The store only records an
// opaque BlobRef into an external blob store; callers write bytes first,
// then register the AssetBlob row, then link it to an Asset.
package metastore
