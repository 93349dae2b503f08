package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/repo-metadata/pkg/metastore"
)

func mustCreateAsset(t *testing.T, repo metastore.Repository, repositoryID int64, componentID *int64, path string) *metastore.Asset {
	t.Helper()
	asset := &metastore.Asset{
		RepositoryID: repositoryID,
		ComponentID:  componentID,
		Path:         path,
	}
	require.NoError(t, repo.CreateAsset(context.Background(), asset, true))
	return asset
}

func mustCreateBlob(t *testing.T, repo metastore.Repository, blob string) *metastore.AssetBlob {
	t.Helper()
	record := &metastore.AssetBlob{
		BlobRef:  metastore.NewBlobRef("node-a", "default", blob),
		BlobSize: 1024,
	}
	require.NoError(t, repo.CreateAssetBlob(context.Background(), record))
	return record
}

func entityVersion(t *testing.T, repo metastore.Repository, componentID int64) *int {
	t.Helper()
	component, err := repo.GetComponentByID(context.Background(), componentID)
	require.NoError(t, err)
	return component.EntityVersion
}

func TestAssetLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	asset := mustCreateAsset(t, repo, repoID, nil, "/org/example/lib-1.0.jar")
	require.NotNil(t, asset.AssetID)

	t.Run("duplicate path", func(t *testing.T) {
		err := repo.CreateAsset(ctx, &metastore.Asset{
			RepositoryID: repoID, Path: "/org/example/lib-1.0.jar",
		}, false)
		assert.ErrorIs(t, err, metastore.ErrDuplicateKey)
	})

	t.Run("get by path and id", func(t *testing.T) {
		got, err := repo.GetAsset(ctx, repoID, "/org/example/lib-1.0.jar")
		require.NoError(t, err)
		assert.Equal(t, *asset.AssetID, *got.AssetID)

		byID, err := repo.GetAssetByID(ctx, *asset.AssetID)
		require.NoError(t, err)
		assert.Equal(t, asset.Path, byID.Path)
	})

	t.Run("get by paths returns only present rows", func(t *testing.T) {
		got, err := repo.GetAssetsByPaths(ctx, repoID,
			[]string{"/org/example/lib-1.0.jar", "/missing.jar"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "/org/example/lib-1.0.jar", got[0].Path)
	})

	t.Run("download tracking", func(t *testing.T) {
		require.NoError(t, repo.MarkAssetDownloaded(ctx, asset))
		got, err := repo.GetAssetByID(ctx, *asset.AssetID)
		require.NoError(t, err)
		require.NotNil(t, got.LastDownloaded)

		past := time.Now().UTC().Add(-48 * time.Hour)
		require.NoError(t, repo.SetAssetLastDownloaded(ctx, *asset.AssetID, past))
		got, err = repo.GetAssetByID(ctx, *asset.AssetID)
		require.NoError(t, err)
		assert.Equal(t, past, *got.LastDownloaded)
	})

	t.Run("delete reports presence", func(t *testing.T) {
		existed, err := repo.DeleteAsset(ctx, asset, false)
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = repo.DeleteAsset(ctx, asset, false)
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestEntityVersionPropagation(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t, WithEntityVersioning())

	component := mustCreateComponent(t, repo, repoID, "org.example", "lib", "1.0")
	componentID := *component.ComponentID
	assert.Nil(t, entityVersion(t, repo, componentID))

	// First structural change moves nil to 1.
	asset := mustCreateAsset(t, repo, repoID, &componentID, "/org/example/lib-1.0.jar")
	require.Equal(t, 1, *entityVersion(t, repo, componentID))

	blob := mustCreateBlob(t, repo, "blob-1")

	t.Run("blob attach bumps once", func(t *testing.T) {
		asset.AssetBlobID = blob.AssetBlobID
		require.NoError(t, repo.UpdateAssetBlobLink(ctx, asset, true))
		assert.Equal(t, 2, *entityVersion(t, repo, componentID))
	})

	t.Run("idempotent attach does not bump", func(t *testing.T) {
		require.NoError(t, repo.UpdateAssetBlobLink(ctx, asset, true))
		assert.Equal(t, 2, *entityVersion(t, repo, componentID))
	})

	t.Run("attribute change bumps, identical value does not", func(t *testing.T) {
		asset.Attributes = map[string]any{"sha1": "abc"}
		require.NoError(t, repo.UpdateAssetAttributes(ctx, asset, true))
		assert.Equal(t, 3, *entityVersion(t, repo, componentID))

		require.NoError(t, repo.UpdateAssetAttributes(ctx, asset, true))
		assert.Equal(t, 3, *entityVersion(t, repo, componentID))
	})

	t.Run("download tracking never bumps", func(t *testing.T) {
		require.NoError(t, repo.MarkAssetDownloaded(ctx, asset))
		assert.Equal(t, 3, *entityVersion(t, repo, componentID))
	})

	t.Run("detach bumps", func(t *testing.T) {
		asset.AssetBlobID = nil
		require.NoError(t, repo.UpdateAssetBlobLink(ctx, asset, true))
		assert.Equal(t, 4, *entityVersion(t, repo, componentID))
	})

	t.Run("no bump when versioning disabled", func(t *testing.T) {
		plain, plainRepoID := newTestRepository(t)
		c := mustCreateComponent(t, plain, plainRepoID, "", "lib", "1")
		id := *c.ComponentID
		mustCreateAsset(t, plain, plainRepoID, &id, "/lib.jar")
		assert.Nil(t, entityVersion(t, plain, id))
	})
}

func TestDeleteAssetsByPathsBumpsOncePerComponent(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t, WithEntityVersioning())

	component := mustCreateComponent(t, repo, repoID, "", "lib", "1")
	componentID := *component.ComponentID
	mustCreateAsset(t, repo, repoID, &componentID, "/lib/a.jar")
	mustCreateAsset(t, repo, repoID, &componentID, "/lib/b.jar")
	mustCreateAsset(t, repo, repoID, &componentID, "/lib/c.jar")
	require.Equal(t, 3, *entityVersion(t, repo, componentID))

	deleted, err := repo.DeleteAssetsByPaths(ctx, repoID,
		[]string{"/lib/a.jar", "/lib/b.jar", "/missing.jar"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	// Two assets removed, one bump.
	assert.Equal(t, 4, *entityVersion(t, repo, componentID))
}

func TestDownloadTrackingSetsLastUpdated(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	asset := mustCreateAsset(t, repo, repoID, nil, "/lib/a.jar")
	past := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repo.SetAssetLastUpdated(ctx, *asset.AssetID, past, false))

	require.NoError(t, repo.MarkAssetDownloaded(ctx, asset))
	got, err := repo.GetAssetByID(ctx, *asset.AssetID)
	require.NoError(t, err)
	require.NotNil(t, got.LastDownloaded)
	assert.True(t, got.LastUpdated.After(past), "mark-downloaded must advance lastUpdated")

	require.NoError(t, repo.SetAssetLastUpdated(ctx, *asset.AssetID, past, false))
	require.NoError(t, repo.SetAssetLastDownloaded(ctx, *asset.AssetID, past))
	got, err = repo.GetAssetByID(ctx, *asset.AssetID)
	require.NoError(t, err)
	assert.Equal(t, past, *got.LastDownloaded)
	assert.True(t, got.LastUpdated.After(past), "set-last-downloaded must advance lastUpdated")
}

func TestDeleteAssetsBumpsOncePerComponent(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t, WithEntityVersioning())

	lib := mustCreateComponent(t, repo, repoID, "", "lib", "1")
	libID := *lib.ComponentID
	app := mustCreateComponent(t, repo, repoID, "", "app", "1")
	appID := *app.ComponentID
	mustCreateAsset(t, repo, repoID, &libID, "/lib/a.jar")
	mustCreateAsset(t, repo, repoID, &libID, "/lib/b.jar")
	mustCreateAsset(t, repo, repoID, &appID, "/app/a.jar")
	require.Equal(t, 2, *entityVersion(t, repo, libID))
	require.Equal(t, 1, *entityVersion(t, repo, appID))

	deleted, err := repo.DeleteAssets(ctx, repoID, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	// One bump per affected component, not per asset.
	assert.Equal(t, 3, *entityVersion(t, repo, libID))
	assert.Equal(t, 2, *entityVersion(t, repo, appID))
}

func TestUnusedBlobDiscoveryScenario(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t, WithEntityVersioning())

	component := mustCreateComponent(t, repo, repoID, "org.example", "lib", "1.0")
	componentID := *component.ComponentID
	asset := mustCreateAsset(t, repo, repoID, &componentID, "/org/example/lib-1.0.jar")
	require.Equal(t, 1, *entityVersion(t, repo, componentID))

	blob1 := mustCreateBlob(t, repo, "blob-1")
	blob2 := mustCreateBlob(t, repo, "blob-2")

	unusedIDs := func() []int64 {
		page, _, err := repo.BrowseUnusedAssetBlobs(ctx, 0, 0, "")
		require.NoError(t, err)
		ids := make([]int64, 0, len(page))
		for _, b := range page {
			ids = append(ids, *b.AssetBlobID)
		}
		return ids
	}

	// Both blobs start unused.
	assert.Equal(t, []int64{*blob1.AssetBlobID, *blob2.AssetBlobID}, unusedIDs())

	// Attach blob1: only blob2 remains unused.
	asset.AssetBlobID = blob1.AssetBlobID
	require.NoError(t, repo.UpdateAssetBlobLink(ctx, asset, true))
	require.Equal(t, 2, *entityVersion(t, repo, componentID))
	assert.Equal(t, []int64{*blob2.AssetBlobID}, unusedIDs())

	// Replace with blob2: blob1 becomes unused.
	asset.AssetBlobID = blob2.AssetBlobID
	require.NoError(t, repo.UpdateAssetBlobLink(ctx, asset, true))
	require.Equal(t, 3, *entityVersion(t, repo, componentID))
	assert.Equal(t, []int64{*blob1.AssetBlobID}, unusedIDs())

	// Detach: both unused again.
	asset.AssetBlobID = nil
	require.NoError(t, repo.UpdateAssetBlobLink(ctx, asset, true))
	require.Equal(t, 4, *entityVersion(t, repo, componentID))
	assert.Equal(t, []int64{*blob1.AssetBlobID, *blob2.AssetBlobID}, unusedIDs())

	exists, err := repo.AssetRecordsExist(ctx, blob1.BlobRef)
	require.NoError(t, err)
	assert.False(t, exists)

	// Re-attach blob1, then remove the asset itself: the link dies with the
	// row and both blobs surface as unused again.
	asset.AssetBlobID = blob1.AssetBlobID
	require.NoError(t, repo.UpdateAssetBlobLink(ctx, asset, true))
	require.Equal(t, 5, *entityVersion(t, repo, componentID))
	assert.Equal(t, []int64{*blob2.AssetBlobID}, unusedIDs())

	existed, err := repo.DeleteAsset(ctx, asset, true)
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, 6, *entityVersion(t, repo, componentID))
	assert.Equal(t, []int64{*blob1.AssetBlobID, *blob2.AssetBlobID}, unusedIDs())

	exists, err = repo.AssetRecordsExist(ctx, blob1.BlobRef)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBrowseAssetsPagination(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	const total, pageSize = 23, 5
	for i := 0; i < total; i++ {
		mustCreateAsset(t, repo, repoID, nil, fmt.Sprintf("/assets/file-%02d.jar", i))
	}

	var all []*metastore.Asset
	var token metastore.ContinuationToken
	pages := 0
	for {
		page, next, err := repo.BrowseAssets(ctx, metastore.BrowseAssetsRequest{
			RepositoryID: repoID, Limit: pageSize, ContinuationToken: token,
		})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		pages++
		all = append(all, page...)
		token = next
	}

	assert.Equal(t, 5, pages)
	require.Len(t, all, total)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Path, all[i].Path)
	}

	count, err := repo.CountAssets(ctx, metastore.BrowseAssetsRequest{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, int64(total), count)
}

func TestBrowseAssetsKindAndFilter(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	jar := &metastore.Asset{RepositoryID: repoID, Path: "/org/lib-1.0.jar", Kind: "archive"}
	require.NoError(t, repo.CreateAsset(ctx, jar, false))
	sig := &metastore.Asset{RepositoryID: repoID, Path: "/org/lib-1.0.jar.asc", Kind: "signature"}
	require.NoError(t, repo.CreateAsset(ctx, sig, false))
	other := &metastore.Asset{RepositoryID: repoID, Path: "/com/other.jar", Kind: "archive"}
	require.NoError(t, repo.CreateAsset(ctx, other, false))

	t.Run("kind narrows", func(t *testing.T) {
		page, _, err := repo.BrowseAssets(ctx, metastore.BrowseAssetsRequest{
			RepositoryID: repoID, Kind: "archive",
		})
		require.NoError(t, err)
		assert.Len(t, page, 2)
	})

	t.Run("filter narrows", func(t *testing.T) {
		filter, err := metastore.CompileAssetFilter(`path.startsWith("/org/") && kind != "signature"`)
		require.NoError(t, err)

		page, _, err := repo.BrowseAssets(ctx, metastore.BrowseAssetsRequest{
			RepositoryID: repoID, Filter: filter,
		})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "/org/lib-1.0.jar", page[0].Path)
	})
}

func TestBrowseAssetsInRepositories(t *testing.T) {
	ctx := context.Background()
	repo, firstID := newTestRepository(t)

	second := &metastore.ContentRepository{ConfigRepositoryID: uuid.New()}
	require.NoError(t, repo.CreateContentRepository(ctx, second))
	secondID := *second.RepositoryID

	mustCreateAsset(t, repo, firstID, nil, "/shared/a.jar")
	mustCreateAsset(t, repo, secondID, nil, "/shared/a.jar")
	mustCreateAsset(t, repo, secondID, nil, "/shared/b.jar")

	var all []*metastore.Asset
	var token metastore.ContinuationToken
	for {
		page, next, err := repo.BrowseAssetsInRepositories(ctx, []int64{firstID, secondID},
			metastore.BrowseAssetsRequest{Limit: 2, ContinuationToken: token})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		token = next
	}

	require.Len(t, all, 3)
	// (path, repository) order: the shared path appears once per member.
	assert.Equal(t, "/shared/a.jar", all[0].Path)
	assert.Equal(t, firstID, all[0].RepositoryID)
	assert.Equal(t, "/shared/a.jar", all[1].Path)
	assert.Equal(t, secondID, all[1].RepositoryID)
	assert.Equal(t, "/shared/b.jar", all[2].Path)
}

func TestBrowseAssetsEager(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	component := mustCreateComponent(t, repo, repoID, "org.example", "lib", "1.0")
	componentID := *component.ComponentID
	blob := mustCreateBlob(t, repo, "blob-1")

	asset := &metastore.Asset{
		RepositoryID: repoID,
		ComponentID:  &componentID,
		Path:         "/org/example/lib-1.0.jar",
		AssetBlobID:  blob.AssetBlobID,
	}
	require.NoError(t, repo.CreateAsset(ctx, asset, false))
	mustCreateAsset(t, repo, repoID, nil, "/bare.txt")

	page, _, err := repo.BrowseAssetsEager(ctx, repoID, 0, "")
	require.NoError(t, err)
	require.Len(t, page, 2)

	// "/bare.txt" sorts first and has nothing to resolve.
	assert.Nil(t, page[0].Component)
	assert.Nil(t, page[0].Blob)

	require.NotNil(t, page[1].Component)
	assert.Equal(t, "lib", page[1].Component.Name)
	require.NotNil(t, page[1].Blob)
	assert.Equal(t, blob.BlobRef, page[1].Blob.BlobRef)
}

func TestFindAssetsByComponentIDs(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	component := mustCreateComponent(t, repo, repoID, "", "lib", "1")
	componentID := *component.ComponentID
	blob := mustCreateBlob(t, repo, "blob-1")

	asset := &metastore.Asset{
		RepositoryID: repoID, ComponentID: &componentID,
		Path: "/lib/a.jar", AssetBlobID: blob.AssetBlobID,
	}
	require.NoError(t, repo.CreateAsset(ctx, asset, false))
	mustCreateAsset(t, repo, repoID, nil, "/stray.txt")

	infos, err := repo.FindAssetsByComponentIDs(ctx, []int64{componentID})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "/lib/a.jar", infos[0].Path)
	assert.Equal(t, *asset.AssetID, infos[0].AssetID)
}

func TestFindAddedToRepository(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	makeAsset := func(path, blobID string, added time.Time) {
		blob := &metastore.AssetBlob{
			BlobRef:           metastore.NewBlobRef("node-a", "default", blobID),
			AddedToRepository: added,
		}
		require.NoError(t, repo.CreateAssetBlob(ctx, blob))
		asset := &metastore.Asset{RepositoryID: repoID, Path: path, AssetBlobID: blob.AssetBlobID}
		require.NoError(t, repo.CreateAsset(ctx, asset, false))
	}

	makeAsset("/old.jar", "b-old", base.Add(-time.Hour))
	makeAsset("/in-range.jar", "b-mid", base.Add(10*time.Minute))
	makeAsset("/late.jar", "b-late", base.Add(2*time.Hour))

	t.Run("bounded range is half open", func(t *testing.T) {
		found, err := repo.FindAddedInRange(ctx, metastore.AddedToRepositoryRequest{
			RepositoryID: repoID, From: base, To: base.Add(time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "/in-range.jar", found[0].Path)
	})

	t.Run("since has no upper bound", func(t *testing.T) {
		found, err := repo.FindAddedSince(ctx, metastore.AddedToRepositoryRequest{
			RepositoryID: repoID, From: base,
		})
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("sub-millisecond noise is ignored", func(t *testing.T) {
		// Bound differs from the stored value only below the millisecond.
		found, err := repo.FindAddedSince(ctx, metastore.AddedToRepositoryRequest{
			RepositoryID: repoID, From: base.Add(10*time.Minute + 400*time.Microsecond),
		})
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("path regexes are an OR", func(t *testing.T) {
		found, err := repo.FindAddedSince(ctx, metastore.AddedToRepositoryRequest{
			RepositoryID: repoID, From: base.Add(-2 * time.Hour),
			PathRegexes: []string{`^/old\.`, `^/late\.`},
		})
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("invalid regex fails", func(t *testing.T) {
		_, err := repo.FindAddedSince(ctx, metastore.AddedToRepositoryRequest{
			RepositoryID: repoID, From: base, PathRegexes: []string{`([`},
		})
		assert.Error(t, err)
	})
}

func TestPurgeNotRecentlyDownloaded(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	stale := mustCreateAsset(t, repo, repoID, nil, "/stale.jar")
	require.NoError(t, repo.SetAssetLastDownloaded(ctx, *stale.AssetID,
		time.Now().UTC().Add(-40*24*time.Hour)))

	fresh := mustCreateAsset(t, repo, repoID, nil, "/fresh.jar")
	require.NoError(t, repo.SetAssetLastDownloaded(ctx, *fresh.AssetID,
		time.Now().UTC().Add(-time.Hour)))

	// Never downloaded: must survive the purge.
	mustCreateAsset(t, repo, repoID, nil, "/never.jar")

	purged, err := repo.PurgeNotRecentlyDownloaded(ctx, repoID, 30, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = repo.GetAsset(ctx, repoID, "/stale.jar")
	assert.ErrorIs(t, err, metastore.ErrAssetNotFound)
	_, err = repo.GetAsset(ctx, repoID, "/fresh.jar")
	assert.NoError(t, err)
	_, err = repo.GetAsset(ctx, repoID, "/never.jar")
	assert.NoError(t, err)
}

func TestSelectThenPurgeEqualsOneStep(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	for i := 0; i < 5; i++ {
		asset := mustCreateAsset(t, repo, repoID, nil, fmt.Sprintf("/stale-%d.jar", i))
		require.NoError(t, repo.SetAssetLastDownloaded(ctx, *asset.AssetID,
			time.Now().UTC().Add(-60*24*time.Hour)))
	}

	selected, err := repo.SelectNotRecentlyDownloaded(ctx, repoID, 30, 3)
	require.NoError(t, err)
	require.Len(t, selected, 3)

	purged, err := repo.PurgeSelectedAssets(ctx, selected)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)

	count, err := repo.CountAssets(ctx, metastore.BrowseAssetsRequest{RepositoryID: repoID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFindAssetByBlobRef(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	blob := mustCreateBlob(t, repo, "blob-1")
	asset := &metastore.Asset{RepositoryID: repoID, Path: "/a.jar", AssetBlobID: blob.AssetBlobID}
	require.NoError(t, repo.CreateAsset(ctx, asset, false))

	found, err := repo.FindAssetByBlobRef(ctx, repoID, blob.BlobRef)
	require.NoError(t, err)
	assert.Equal(t, *asset.AssetID, *found.AssetID)

	_, err = repo.FindAssetByBlobRef(ctx, repoID, metastore.NewBlobRef("node-a", "default", "nope"))
	assert.ErrorIs(t, err, metastore.ErrAssetNotFound)
}

func TestDeleteAssetsBatch(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	for i := 0; i < 7; i++ {
		mustCreateAsset(t, repo, repoID, nil, fmt.Sprintf("/f-%d.jar", i))
	}

	deleted, err := repo.DeleteAssets(ctx, repoID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	deleted, err = repo.DeleteAssets(ctx, repoID, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
}
