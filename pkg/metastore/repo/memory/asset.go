package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/tendant/repo-metadata/pkg/metastore"
)

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	if asset.RepositoryID == 0 || asset.Path == "" {
		return fmt.Errorf("asset repository id and path are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pathKey{asset.RepositoryID, asset.Path}
	if _, exists := r.assetIDsByPath[key]; exists {
		return fmt.Errorf("%w: asset %s", metastore.ErrDuplicateKey, asset.Path)
	}

	now := time.Now().UTC()
	id := r.allocateID()
	asset.AssetID = &id
	asset.Created = now
	asset.LastUpdated = now

	stored := *asset
	stored.Attributes = cloneAttributes(asset.Attributes)
	stored.Component = nil
	stored.Blob = nil
	r.assets[id] = &stored
	r.assetIDsByPath[key] = id

	if bumpOwnerVersion && asset.ComponentID != nil {
		r.bumpOwnerVersionLocked(*asset.ComponentID)
	}
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, repositoryID int64, path string) (*metastore.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.assetIDsByPath[pathKey{repositoryID, path}]
	if !exists {
		return nil, metastore.ErrAssetNotFound
	}
	return cloneAsset(r.assets[id]), nil
}

func (r *Repository) GetAssetByID(ctx context.Context, assetID int64) (*metastore.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[assetID]
	if !exists {
		return nil, metastore.ErrAssetNotFound
	}
	return cloneAsset(asset), nil
}

func (r *Repository) GetAssetsByPaths(ctx context.Context, repositoryID int64, paths []string) ([]*metastore.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*metastore.Asset
	for _, path := range paths {
		if id, exists := r.assetIDsByPath[pathKey{repositoryID, path}]; exists {
			result = append(result, cloneAsset(r.assets[id]))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func (r *Repository) FindAssetByBlobRef(ctx context.Context, repositoryID int64, ref metastore.BlobRef) (*metastore.Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blobID, exists := r.blobIDsByRef[ref]
	if !exists {
		return nil, metastore.ErrAssetNotFound
	}
	for _, asset := range r.assets {
		if asset.RepositoryID == repositoryID && asset.AssetBlobID != nil && *asset.AssetBlobID == blobID {
			return cloneAsset(asset), nil
		}
	}
	return nil, metastore.ErrAssetNotFound
}

func (r *Repository) UpdateAssetAttributes(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveAssetLocked(asset)
	if err != nil {
		return err
	}
	if attributesEqual(stored.Attributes, asset.Attributes) {
		return nil
	}
	stored.Attributes = cloneAttributes(asset.Attributes)
	stored.LastUpdated = time.Now().UTC()
	if bumpOwnerVersion && stored.ComponentID != nil {
		r.bumpOwnerVersionLocked(*stored.ComponentID)
	}
	return nil
}

func (r *Repository) UpdateAssetKind(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveAssetLocked(asset)
	if err != nil {
		return err
	}
	if stored.Kind == asset.Kind {
		return nil
	}
	stored.Kind = asset.Kind
	stored.LastUpdated = time.Now().UTC()
	if bumpOwnerVersion && stored.ComponentID != nil {
		r.bumpOwnerVersionLocked(*stored.ComponentID)
	}
	return nil
}

func (r *Repository) UpdateAssetBlobLink(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveAssetLocked(asset)
	if err != nil {
		return err
	}
	if int64PtrEqual(stored.AssetBlobID, asset.AssetBlobID) {
		return nil
	}
	if asset.AssetBlobID != nil {
		if _, exists := r.blobs[*asset.AssetBlobID]; !exists {
			return metastore.ErrAssetBlobNotFound
		}
		id := *asset.AssetBlobID
		stored.AssetBlobID = &id
	} else {
		stored.AssetBlobID = nil
	}
	stored.LastUpdated = time.Now().UTC()
	if bumpOwnerVersion && stored.ComponentID != nil {
		r.bumpOwnerVersionLocked(*stored.ComponentID)
	}
	return nil
}

func (r *Repository) MarkAssetDownloaded(ctx context.Context, asset *metastore.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveAssetLocked(asset)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	stored.LastDownloaded = &now
	stored.LastUpdated = now
	return nil
}

func (r *Repository) SetAssetLastDownloaded(ctx context.Context, assetID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.assets[assetID]
	if !exists {
		return metastore.ErrAssetNotFound
	}
	at = at.UTC()
	stored.LastDownloaded = &at
	stored.LastUpdated = time.Now().UTC()
	return nil
}

func (r *Repository) SetAssetLastUpdated(ctx context.Context, assetID int64, at time.Time, bumpOwnerVersion bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.assets[assetID]
	if !exists {
		return metastore.ErrAssetNotFound
	}
	stored.LastUpdated = at.UTC()
	if bumpOwnerVersion && stored.ComponentID != nil {
		r.bumpOwnerVersionLocked(*stored.ComponentID)
	}
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveAssetLocked(asset)
	if err != nil {
		if err == metastore.ErrAssetNotFound {
			return false, nil
		}
		return false, err
	}
	if bumpOwnerVersion && stored.ComponentID != nil {
		r.bumpOwnerVersionLocked(*stored.ComponentID)
	}
	r.removeAssetLocked(stored)
	return true, nil
}

func (r *Repository) DeleteAssetsByPaths(ctx context.Context, repositoryID int64, paths []string, bumpOwnerVersion bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	bumped := make(map[int64]bool)
	for _, path := range paths {
		id, exists := r.assetIDsByPath[pathKey{repositoryID, path}]
		if !exists {
			continue
		}
		stored := r.assets[id]
		if bumpOwnerVersion && stored.ComponentID != nil && !bumped[*stored.ComponentID] {
			// One bump per affected component, however many of its assets go.
			r.bumpOwnerVersionLocked(*stored.ComponentID)
			bumped[*stored.ComponentID] = true
		}
		r.removeAssetLocked(stored)
		deleted++
	}
	return deleted, nil
}

func (r *Repository) DeleteAssets(ctx context.Context, repositoryID int64, batchSize int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doomed := r.assetsOfRepositoryLocked(repositoryID)
	if batchSize > 0 && len(doomed) > batchSize {
		doomed = doomed[:batchSize]
	}
	bumped := make(map[int64]bool)
	for _, asset := range doomed {
		if asset.ComponentID != nil && !bumped[*asset.ComponentID] {
			// One bump per affected component, however many of its assets go.
			r.bumpOwnerVersionLocked(*asset.ComponentID)
			bumped[*asset.ComponentID] = true
		}
		r.removeAssetLocked(asset)
	}
	return len(doomed), nil
}

func (r *Repository) BrowseAssets(ctx context.Context, req metastore.BrowseAssetsRequest) ([]*metastore.Asset, metastore.ContinuationToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.browseAssetsLocked(req)
}

func (r *Repository) CountAssets(ctx context.Context, req metastore.BrowseAssetsRequest) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, asset := range r.assets {
		if asset.RepositoryID != req.RepositoryID {
			continue
		}
		matched, err := assetMatches(asset, req)
		if err != nil {
			return 0, err
		}
		if matched {
			count++
		}
	}
	return count, nil
}

func (r *Repository) BrowseAssetsInRepositories(ctx context.Context, repositoryIDs []int64, req metastore.BrowseAssetsRequest) ([]*metastore.Asset, metastore.ContinuationToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make(map[int64]bool, len(repositoryIDs))
	for _, id := range repositoryIDs {
		members[id] = true
	}

	var candidates []*metastore.Asset
	for _, asset := range r.assets {
		if !members[asset.RepositoryID] {
			continue
		}
		matched, err := assetMatches(asset, req)
		if err != nil {
			return nil, "", err
		}
		if matched {
			candidates = append(candidates, asset)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Path != candidates[j].Path {
			return candidates[i].Path < candidates[j].Path
		}
		return candidates[i].RepositoryID < candidates[j].RepositoryID
	})

	if fields, err := req.ContinuationToken.Fields(2); err != nil {
		return nil, "", err
	} else if fields != nil {
		afterRepo, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid continuation token: %w", err)
		}
		filtered := candidates[:0]
		for _, a := range candidates {
			if a.Path > fields[0] || (a.Path == fields[0] && a.RepositoryID > afterRepo) {
				filtered = append(filtered, a)
			}
		}
		candidates = filtered
	}
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	result := make([]*metastore.Asset, 0, len(candidates))
	for _, a := range candidates {
		result = append(result, cloneAsset(a))
	}
	var next metastore.ContinuationToken
	if len(result) > 0 {
		last := result[len(result)-1]
		next = metastore.NewContinuationToken(last.Path, strconv.FormatInt(last.RepositoryID, 10))
	}
	return result, next, nil
}

func (r *Repository) BrowseAssetsEager(ctx context.Context, repositoryID int64, limit int, token metastore.ContinuationToken) ([]*metastore.Asset, metastore.ContinuationToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	page, next, err := r.browseAssetsLocked(metastore.BrowseAssetsRequest{
		RepositoryID:      repositoryID,
		Limit:             limit,
		ContinuationToken: token,
	})
	if err != nil {
		return nil, "", err
	}
	for _, asset := range page {
		if asset.ComponentID != nil {
			if component, exists := r.components[*asset.ComponentID]; exists {
				asset.Component = cloneComponent(component)
			}
		}
		if asset.AssetBlobID != nil {
			if blob, exists := r.blobs[*asset.AssetBlobID]; exists {
				asset.Blob = cloneAssetBlob(blob)
			}
		}
	}
	return page, next, nil
}

func (r *Repository) FindAssetsByComponentIDs(ctx context.Context, componentIDs []int64) ([]*metastore.AssetInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make(map[int64]bool, len(componentIDs))
	for _, id := range componentIDs {
		members[id] = true
	}

	var result []*metastore.AssetInfo
	for _, asset := range r.assets {
		if asset.ComponentID == nil || !members[*asset.ComponentID] {
			continue
		}
		info := &metastore.AssetInfo{
			AssetID:     *asset.AssetID,
			Path:        asset.Path,
			LastUpdated: asset.LastUpdated,
		}
		if asset.AssetBlobID != nil {
			if blob, exists := r.blobs[*asset.AssetBlobID]; exists {
				info.ContentType = blob.ContentType
				info.Checksums = cloneChecksums(blob.Checksums)
			}
		}
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func (r *Repository) FindAddedInRange(ctx context.Context, req metastore.AddedToRepositoryRequest) ([]*metastore.Asset, error) {
	return r.findAdded(req, true)
}

func (r *Repository) FindAddedSince(ctx context.Context, req metastore.AddedToRepositoryRequest) ([]*metastore.Asset, error) {
	return r.findAdded(req, false)
}

func (r *Repository) findAdded(req metastore.AddedToRepositoryRequest, bounded bool) ([]*metastore.Asset, error) {
	patterns := make([]*regexp.Regexp, 0, len(req.PathRegexes))
	for _, expr := range req.PathRegexes {
		pattern, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid path regex %q: %w", expr, err)
		}
		patterns = append(patterns, pattern)
	}

	// AddedToRepository comparisons happen at millisecond precision on both
	// sides, so stored values and bounds truncate identically.
	from := req.From.Truncate(time.Millisecond)
	to := req.To.Truncate(time.Millisecond)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*metastore.Asset
	for _, asset := range r.assets {
		if asset.RepositoryID != req.RepositoryID || asset.AssetBlobID == nil {
			continue
		}
		blob, exists := r.blobs[*asset.AssetBlobID]
		if !exists {
			continue
		}
		added := blob.AddedToRepository.Truncate(time.Millisecond)
		if added.Before(from) {
			continue
		}
		if bounded && !added.Before(to) {
			continue
		}
		if len(patterns) > 0 && !anyPatternMatches(patterns, asset.Path) {
			continue
		}
		result = append(result, cloneAsset(asset))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	if req.Limit > 0 && len(result) > req.Limit {
		result = result[:req.Limit]
	}
	return result, nil
}

func (r *Repository) PurgeNotRecentlyDownloaded(ctx context.Context, repositoryID int64, thresholdDays int, batchLimit int) (int, error) {
	selected, err := r.SelectNotRecentlyDownloaded(ctx, repositoryID, thresholdDays, batchLimit)
	if err != nil {
		return 0, err
	}
	return r.PurgeSelectedAssets(ctx, selected)
}

func (r *Repository) SelectNotRecentlyDownloaded(ctx context.Context, repositoryID int64, thresholdDays int, batchLimit int) ([]int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(thresholdDays) * 24 * time.Hour)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*metastore.Asset
	for _, asset := range r.assets {
		// Assets never downloaded are kept; only stale downloads qualify.
		if asset.RepositoryID == repositoryID && asset.LastDownloaded != nil && asset.LastDownloaded.Before(cutoff) {
			candidates = append(candidates, asset)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return *candidates[i].AssetID < *candidates[j].AssetID })
	if batchLimit > 0 && len(candidates) > batchLimit {
		candidates = candidates[:batchLimit]
	}

	ids := make([]int64, 0, len(candidates))
	for _, asset := range candidates {
		ids = append(ids, *asset.AssetID)
	}
	return ids, nil
}

func (r *Repository) PurgeSelectedAssets(ctx context.Context, assetIDs []int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := 0
	bumped := make(map[int64]bool)
	for _, id := range assetIDs {
		stored, exists := r.assets[id]
		if !exists {
			continue
		}
		if stored.ComponentID != nil && !bumped[*stored.ComponentID] {
			r.bumpOwnerVersionLocked(*stored.ComponentID)
			bumped[*stored.ComponentID] = true
		}
		r.removeAssetLocked(stored)
		purged++
	}
	return purged, nil
}

func (r *Repository) AssetRecordsExist(ctx context.Context, ref metastore.BlobRef) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	blobID, exists := r.blobIDsByRef[ref]
	if !exists {
		return false, nil
	}
	for _, asset := range r.assets {
		if asset.AssetBlobID != nil && *asset.AssetBlobID == blobID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) browseAssetsLocked(req metastore.BrowseAssetsRequest) ([]*metastore.Asset, metastore.ContinuationToken, error) {
	var candidates []*metastore.Asset
	for _, asset := range r.assets {
		if asset.RepositoryID != req.RepositoryID {
			continue
		}
		matched, err := assetMatches(asset, req)
		if err != nil {
			return nil, "", err
		}
		if matched {
			candidates = append(candidates, asset)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })

	if fields, err := req.ContinuationToken.Fields(1); err != nil {
		return nil, "", err
	} else if fields != nil {
		filtered := candidates[:0]
		for _, a := range candidates {
			if a.Path > fields[0] {
				filtered = append(filtered, a)
			}
		}
		candidates = filtered
	}
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	result := make([]*metastore.Asset, 0, len(candidates))
	for _, a := range candidates {
		result = append(result, cloneAsset(a))
	}
	var next metastore.ContinuationToken
	if len(result) > 0 {
		next = metastore.NewContinuationToken(result[len(result)-1].Path)
	}
	return result, next, nil
}

func (r *Repository) resolveAssetLocked(asset *metastore.Asset) (*metastore.Asset, error) {
	if asset.AssetID != nil {
		stored, exists := r.assets[*asset.AssetID]
		if !exists {
			return nil, metastore.ErrAssetNotFound
		}
		return stored, nil
	}
	if asset.RepositoryID == 0 || asset.Path == "" {
		return nil, metastore.ErrDetachedEntity
	}
	id, exists := r.assetIDsByPath[pathKey{asset.RepositoryID, asset.Path}]
	if !exists {
		return nil, metastore.ErrAssetNotFound
	}
	return r.assets[id], nil
}

func (r *Repository) removeAssetLocked(asset *metastore.Asset) {
	delete(r.assets, *asset.AssetID)
	delete(r.assetIDsByPath, pathKey{asset.RepositoryID, asset.Path})
}

func (r *Repository) assetsOfRepositoryLocked(repositoryID int64) []*metastore.Asset {
	var result []*metastore.Asset
	for _, a := range r.assets {
		if a.RepositoryID == repositoryID {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

func assetMatches(asset *metastore.Asset, req metastore.BrowseAssetsRequest) (bool, error) {
	if req.Kind != "" && asset.Kind != req.Kind {
		return false, nil
	}
	if req.Filter != nil {
		return req.Filter.Match(asset)
	}
	return true, nil
}

func anyPatternMatches(patterns []*regexp.Regexp, path string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneAsset(asset *metastore.Asset) *metastore.Asset {
	clone := *asset
	if asset.AssetID != nil {
		id := *asset.AssetID
		clone.AssetID = &id
	}
	if asset.ComponentID != nil {
		id := *asset.ComponentID
		clone.ComponentID = &id
	}
	if asset.AssetBlobID != nil {
		id := *asset.AssetBlobID
		clone.AssetBlobID = &id
	}
	if asset.LastDownloaded != nil {
		at := *asset.LastDownloaded
		clone.LastDownloaded = &at
	}
	clone.Attributes = cloneAttributes(asset.Attributes)
	clone.Component = nil
	clone.Blob = nil
	return &clone
}
