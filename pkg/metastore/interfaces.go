package metastore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContentRepositoryStore manages the per-repository record linking an
// internal repository id to its external configuration entity.
type ContentRepositoryStore interface {
	// CreateContentRepository assigns the internal repository id. Fails with
	// ErrDuplicateKey if the config repository id is already registered.
	CreateContentRepository(ctx context.Context, repo *ContentRepository) error
	GetContentRepository(ctx context.Context, configRepositoryID uuid.UUID) (*ContentRepository, error)
	// UpdateContentRepositoryAttributes bumps LastUpdated only if the
	// attributes actually differ from the stored value.
	UpdateContentRepositoryAttributes(ctx context.Context, repo *ContentRepository) error
	// DeleteContentRepository reports whether a row existed. By convention
	// the repository's components, assets and browse nodes are deleted first.
	DeleteContentRepository(ctx context.Context, repo *ContentRepository) (bool, error)
	BrowseContentRepositories(ctx context.Context) ([]*ContentRepository, error)
}

// ComponentStore manages components and their coordinate browsing.
//
// When entity versioning is enabled for the store, any structural change to
// a component's assets increments the component's EntityVersion by exactly
// one; re-applying an identical value never increments it.
type ComponentStore interface {
	// CreateComponent assigns the component id. Fails with ErrDuplicateKey
	// on a (repository, namespace, name, version) collision.
	CreateComponent(ctx context.Context, component *Component) error
	GetComponent(ctx context.Context, repositoryID int64, namespace, name, version string) (*Component, error)
	GetComponentByID(ctx context.Context, componentID int64) (*Component, error)
	// UpdateComponentAttributes bumps LastUpdated only on real change and
	// never touches Created. A detached component (nil ComponentID) is
	// re-resolved by its natural key.
	UpdateComponentAttributes(ctx context.Context, component *Component) error
	UpdateComponentKind(ctx context.Context, component *Component) error
	DeleteComponent(ctx context.Context, component *Component) (bool, error)
	// DeleteComponents removes up to batchSize components of the repository;
	// batchSize <= 0 clears everything remaining in one call.
	DeleteComponents(ctx context.Context, repositoryID int64, batchSize int) (int, error)
	// BrowseComponents pages in (namespace, name, version) order.
	BrowseComponents(ctx context.Context, repositoryID int64, limit int, token ContinuationToken) ([]*Component, ContinuationToken, error)
	BrowseNamespaces(ctx context.Context, repositoryID int64) ([]string, error)
	BrowseNames(ctx context.Context, repositoryID int64, namespace string) ([]string, error)
	// BrowseVersions returns the distinct versions for a coordinate, ordered
	// by normalized version.
	BrowseVersions(ctx context.Context, repositoryID int64, namespace, name string) ([]string, error)
	// PurgeComponents deletes the given components and their assets in
	// bounded internal batches, emitting pre-purge and post-purge
	// notifications per batch, and returns the count actually removed.
	PurgeComponents(ctx context.Context, repositoryID int64, componentIDs []int64) (int, error)
}

// AssetBlobStore manages immutable blob-reference records.
type AssetBlobStore interface {
	// CreateAssetBlob assigns the asset blob id. Fails with ErrDuplicateKey
	// if the blob ref is already registered.
	CreateAssetBlob(ctx context.Context, blob *AssetBlob) error
	GetAssetBlob(ctx context.Context, ref BlobRef) (*AssetBlob, error)
	// DeleteAssetBlob reports whether a row existed. Callers must ensure no
	// asset still references the blob; the store does not enforce it.
	DeleteAssetBlob(ctx context.Context, ref BlobRef) (bool, error)
	// BrowseUnusedAssetBlobs pages over blobs no asset points to, ordered by
	// asset blob id. A non-zero maxAge only returns blobs whose BlobCreated
	// is older than now-maxAge, guarding against racing an uncommitted
	// attach.
	BrowseUnusedAssetBlobs(ctx context.Context, limit int, maxAge time.Duration, token ContinuationToken) ([]*AssetBlob, ContinuationToken, error)
}

// BrowseAssetsRequest scopes a paged asset browse. Kind and Filter are
// optional narrowing predicates.
type BrowseAssetsRequest struct {
	RepositoryID      int64
	Limit             int
	ContinuationToken ContinuationToken
	Kind              string
	Filter            *AssetFilter
}

// AddedToRepositoryRequest scopes the incremental-sync queries over
// AssetBlob.AddedToRepository. Timestamps are compared at millisecond
// precision on both sides. PathRegexes, when non-empty, is an OR of pattern
// matches against the asset path.
type AddedToRepositoryRequest struct {
	RepositoryID int64
	From         time.Time
	To           time.Time
	PathRegexes  []string
	Limit        int
}

// AssetStore manages assets, their blob links and download bookkeeping.
//
// The bumpOwnerVersion argument on mutating operations requests an owner
// EntityVersion bump; it takes effect only when entity versioning is enabled
// for the store, the asset belongs to a component, and the operation
// actually changed stored state.
type AssetStore interface {
	// CreateAsset assigns the asset id. Fails with ErrDuplicateKey on a
	// (repository, path) collision.
	CreateAsset(ctx context.Context, asset *Asset, bumpOwnerVersion bool) error
	GetAsset(ctx context.Context, repositoryID int64, path string) (*Asset, error)
	GetAssetByID(ctx context.Context, assetID int64) (*Asset, error)
	GetAssetsByPaths(ctx context.Context, repositoryID int64, paths []string) ([]*Asset, error)
	FindAssetByBlobRef(ctx context.Context, repositoryID int64, ref BlobRef) (*Asset, error)
	UpdateAssetAttributes(ctx context.Context, asset *Asset, bumpOwnerVersion bool) error
	UpdateAssetKind(ctx context.Context, asset *Asset, bumpOwnerVersion bool) error
	// UpdateAssetBlobLink sets, replaces or clears the asset's blob link.
	// Attach, replace and detach bump LastUpdated (and conditionally the
	// owner version); re-setting the current value or detaching an already
	// detached asset is a no-op. All verified against stored state.
	UpdateAssetBlobLink(ctx context.Context, asset *Asset, bumpOwnerVersion bool) error
	// MarkAssetDownloaded records a download now. Download tracking is not a
	// structural change and never bumps the owner version.
	MarkAssetDownloaded(ctx context.Context, asset *Asset) error
	SetAssetLastDownloaded(ctx context.Context, assetID int64, at time.Time) error
	// SetAssetLastUpdated is the administrative timestamp override used for
	// backfill/migration.
	SetAssetLastUpdated(ctx context.Context, assetID int64, at time.Time, bumpOwnerVersion bool) error
	DeleteAsset(ctx context.Context, asset *Asset, bumpOwnerVersion bool) (bool, error)
	// DeleteAssetsByPaths removes the listed paths, bumping each affected
	// component's version exactly once per call regardless of how many of
	// its assets were removed.
	DeleteAssetsByPaths(ctx context.Context, repositoryID int64, paths []string, bumpOwnerVersion bool) (int, error)
	// DeleteAssets removes up to batchSize assets of the repository;
	// batchSize <= 0 clears everything remaining in one call.
	DeleteAssets(ctx context.Context, repositoryID int64, batchSize int) (int, error)
	// BrowseAssets pages in path order.
	BrowseAssets(ctx context.Context, req BrowseAssetsRequest) ([]*Asset, ContinuationToken, error)
	CountAssets(ctx context.Context, req BrowseAssetsRequest) (int64, error)
	// BrowseAssetsInRepositories pages across a set of repositories in
	// (path, repository) order; used by group repositories. The request's
	// RepositoryID is ignored.
	BrowseAssetsInRepositories(ctx context.Context, repositoryIDs []int64, req BrowseAssetsRequest) ([]*Asset, ContinuationToken, error)
	// BrowseAssetsEager pages like BrowseAssets with each returned asset's
	// Component and Blob pre-resolved.
	BrowseAssetsEager(ctx context.Context, repositoryID int64, limit int, token ContinuationToken) ([]*Asset, ContinuationToken, error)
	FindAssetsByComponentIDs(ctx context.Context, componentIDs []int64) ([]*AssetInfo, error)
	// FindAddedInRange returns assets whose blob joined the repository in
	// [From, To); FindAddedSince uses From only.
	FindAddedInRange(ctx context.Context, req AddedToRepositoryRequest) ([]*Asset, error)
	FindAddedSince(ctx context.Context, req AddedToRepositoryRequest) ([]*Asset, error)
	// PurgeNotRecentlyDownloaded deletes up to batchLimit assets whose
	// LastDownloaded is set and older than thresholdDays. Assets never
	// downloaded are not purged.
	PurgeNotRecentlyDownloaded(ctx context.Context, repositoryID int64, thresholdDays int, batchLimit int) (int, error)
	// SelectNotRecentlyDownloaded / PurgeSelectedAssets are the two-step
	// form of the recency purge, for callers that reconcile the browse tree
	// (or otherwise inspect candidates) between the steps. The composed pair
	// is equivalent to the one-step form, modulo concurrent writers.
	SelectNotRecentlyDownloaded(ctx context.Context, repositoryID int64, thresholdDays int, batchLimit int) ([]int64, error)
	PurgeSelectedAssets(ctx context.Context, assetIDs []int64) (int, error)
	// AssetRecordsExist reports whether any asset links the blob, usable
	// even for component-less assets.
	AssetRecordsExist(ctx context.Context, ref BlobRef) (bool, error)
}

// BrowseNodeFilter is a per-format visibility predicate supplied by the
// surrounding format/security layer.
type BrowseNodeFilter func(node *BrowseNode) bool

// BrowseNodeIdentity computes the dedup key used when group browsing
// collapses duplicate nodes from multiple members. The default is the path.
type BrowseNodeIdentity func(node *BrowseNode) string

// GroupBrowseRequest scopes a browse across the members of a group
// repository. Member order decides which node wins display fields when
// duplicates collapse.
type GroupBrowseRequest struct {
	RepositoryIDs []int64
	Segments      []string
	Limit         int
	Format        string
	Filter        BrowseNodeFilter
	Identity      BrowseNodeIdentity
}

// BrowseNodeStore maintains the materialized path-tree index.
type BrowseNodeStore interface {
	// CreateAssetBrowseNode idempotently upserts the node chain for the
	// path segments, creating ancestor folder nodes as needed, and sets the
	// leaf node's asset id. An existing node at that path with a component
	// id set is merged, keeping both ids.
	CreateAssetBrowseNode(ctx context.Context, format string, segments []string, asset *Asset) error
	CreateComponentBrowseNode(ctx context.Context, format string, segments []string, component *Component) error
	// DeleteAssetBrowseNode clears the asset id from the asset's node; the
	// row itself is removed only if no component id remains. Deleting a
	// node that does not exist is a silent no-op.
	DeleteAssetBrowseNode(ctx context.Context, asset *Asset) error
	DeleteComponentBrowseNode(ctx context.Context, component *Component) error
	// DeleteBrowseNodes bulk-deletes the repository's tree in pages of
	// deletePageSize rows and returns the number removed.
	DeleteBrowseNodes(ctx context.Context, repositoryID int64, deletePageSize int) (int, error)
	AssetBrowseNodeExists(ctx context.Context, asset *Asset) (bool, error)
	// GetBrowseNodes returns the immediate children of the node addressed
	// by the path segments (empty segments = root), each annotated with Leaf.
	GetBrowseNodes(ctx context.Context, repositoryID int64, segments []string, limit int) ([]*BrowseNode, error)
	GetBrowseNodesInRepositories(ctx context.Context, req GroupBrowseRequest) ([]*BrowseNode, error)
}

// Repository aggregates the five stores over one backend.
type Repository interface {
	ContentRepositoryStore
	ComponentStore
	AssetStore
	AssetBlobStore
	BrowseNodeStore
}
