package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tendant/repo-metadata/pkg/metastore"
)

// Asset blob operations

func (r *Repository) CreateAssetBlob(ctx context.Context, blob *metastore.AssetBlob) error {
	if blob.BlobRef.IsZero() {
		return fmt.Errorf("asset blob ref is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.blobIDsByRef[blob.BlobRef]; exists {
		return fmt.Errorf("%w: asset blob %s", metastore.ErrDuplicateKey, blob.BlobRef)
	}

	id := r.allocateID()
	blob.AssetBlobID = &id
	if blob.AddedToRepository.IsZero() {
		blob.AddedToRepository = time.Now().UTC()
	}

	stored := *blob
	stored.Checksums = cloneChecksums(blob.Checksums)
	r.blobs[id] = &stored
	r.blobIDsByRef[blob.BlobRef] = id

	return nil
}

func (r *Repository) GetAssetBlob(ctx context.Context, ref metastore.BlobRef) (*metastore.AssetBlob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.blobIDsByRef[ref]
	if !exists {
		return nil, metastore.ErrAssetBlobNotFound
	}
	return cloneAssetBlob(r.blobs[id]), nil
}

func (r *Repository) DeleteAssetBlob(ctx context.Context, ref metastore.BlobRef) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, exists := r.blobIDsByRef[ref]
	if !exists {
		return false, nil
	}
	delete(r.blobs, id)
	delete(r.blobIDsByRef, ref)
	return true, nil
}

func (r *Repository) BrowseUnusedAssetBlobs(ctx context.Context, limit int, maxAge time.Duration, token metastore.ContinuationToken) ([]*metastore.AssetBlob, metastore.ContinuationToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	used := make(map[int64]bool)
	for _, asset := range r.assets {
		if asset.AssetBlobID != nil {
			used[*asset.AssetBlobID] = true
		}
	}

	var after int64
	if fields, err := token.Fields(1); err != nil {
		return nil, "", err
	} else if fields != nil {
		after, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid continuation token: %w", err)
		}
	}

	// maxAge keeps blobs created inside the window out of the page, so a
	// blob whose attaching asset has not landed yet is not reported unused.
	var createdBefore time.Time
	if maxAge > 0 {
		createdBefore = time.Now().UTC().Add(-maxAge)
	}

	var candidates []*metastore.AssetBlob
	for id, blob := range r.blobs {
		if used[id] || id <= after {
			continue
		}
		if maxAge > 0 && !blob.BlobCreated.Before(createdBefore) {
			continue
		}
		candidates = append(candidates, blob)
	}
	sort.Slice(candidates, func(i, j int) bool { return *candidates[i].AssetBlobID < *candidates[j].AssetBlobID })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*metastore.AssetBlob, 0, len(candidates))
	for _, blob := range candidates {
		result = append(result, cloneAssetBlob(blob))
	}
	var next metastore.ContinuationToken
	if len(result) > 0 {
		last := result[len(result)-1]
		next = metastore.NewContinuationToken(strconv.FormatInt(*last.AssetBlobID, 10))
	}
	return result, next, nil
}

func cloneAssetBlob(blob *metastore.AssetBlob) *metastore.AssetBlob {
	clone := *blob
	if blob.AssetBlobID != nil {
		id := *blob.AssetBlobID
		clone.AssetBlobID = &id
	}
	clone.Checksums = cloneChecksums(blob.Checksums)
	return &clone
}
