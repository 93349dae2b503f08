package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/repo-metadata/pkg/metastore"
)

func newTestRepository(t *testing.T, opts ...Option) (metastore.Repository, int64) {
	t.Helper()
	repo := New(opts...)
	record := &metastore.ContentRepository{ConfigRepositoryID: uuid.New()}
	require.NoError(t, repo.CreateContentRepository(context.Background(), record))
	return repo, *record.RepositoryID
}

func mustCreateComponent(t *testing.T, repo metastore.Repository, repositoryID int64, namespace, name, version string) *metastore.Component {
	t.Helper()
	component := &metastore.Component{
		RepositoryID: repositoryID,
		Namespace:    namespace,
		Name:         name,
		Version:      version,
	}
	require.NoError(t, repo.CreateComponent(context.Background(), component))
	return component
}

func TestContentRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := New()

	configID := uuid.New()
	record := &metastore.ContentRepository{ConfigRepositoryID: configID}
	require.NoError(t, repo.CreateContentRepository(ctx, record))
	require.NotNil(t, record.RepositoryID)

	t.Run("duplicate config id", func(t *testing.T) {
		err := repo.CreateContentRepository(ctx, &metastore.ContentRepository{ConfigRepositoryID: configID})
		assert.ErrorIs(t, err, metastore.ErrDuplicateKey)
	})

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetContentRepository(ctx, configID)
		require.NoError(t, err)
		assert.Equal(t, *record.RepositoryID, *got.RepositoryID)
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := repo.GetContentRepository(ctx, uuid.New())
		assert.ErrorIs(t, err, metastore.ErrContentRepositoryNotFound)
	})

	t.Run("attributes update is change gated", func(t *testing.T) {
		got, err := repo.GetContentRepository(ctx, configID)
		require.NoError(t, err)
		before := got.LastUpdated

		got.Attributes = map[string]any{"format": "maven2"}
		require.NoError(t, repo.UpdateContentRepositoryAttributes(ctx, got))

		updated, err := repo.GetContentRepository(ctx, configID)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"format": "maven2"}, updated.Attributes)
		assert.True(t, updated.LastUpdated.After(before) || updated.LastUpdated.Equal(before))

		// Same value again leaves the timestamp alone.
		stamp := updated.LastUpdated
		require.NoError(t, repo.UpdateContentRepositoryAttributes(ctx, updated))
		again, err := repo.GetContentRepository(ctx, configID)
		require.NoError(t, err)
		assert.Equal(t, stamp, again.LastUpdated)
	})

	t.Run("browse ordered by internal id", func(t *testing.T) {
		second := &metastore.ContentRepository{ConfigRepositoryID: uuid.New()}
		require.NoError(t, repo.CreateContentRepository(ctx, second))

		repos, err := repo.BrowseContentRepositories(ctx)
		require.NoError(t, err)
		require.Len(t, repos, 2)
		assert.Less(t, *repos[0].RepositoryID, *repos[1].RepositoryID)
	})

	t.Run("delete reports presence", func(t *testing.T) {
		existed, err := repo.DeleteContentRepository(ctx, record)
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = repo.DeleteContentRepository(ctx, record)
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestComponentLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	component := mustCreateComponent(t, repo, repoID, "org.example", "lib", "1.0.0")
	require.NotNil(t, component.ComponentID)
	assert.Nil(t, component.EntityVersion)
	assert.Equal(t, "000000001.000000000.000000000", component.NormalizedVersion)

	t.Run("duplicate coordinate", func(t *testing.T) {
		err := repo.CreateComponent(ctx, &metastore.Component{
			RepositoryID: repoID, Namespace: "org.example", Name: "lib", Version: "1.0.0",
		})
		assert.ErrorIs(t, err, metastore.ErrDuplicateKey)
	})

	t.Run("get by coordinate and id", func(t *testing.T) {
		got, err := repo.GetComponent(ctx, repoID, "org.example", "lib", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, *component.ComponentID, *got.ComponentID)

		byID, err := repo.GetComponentByID(ctx, *component.ComponentID)
		require.NoError(t, err)
		assert.Equal(t, "lib", byID.Name)
	})

	t.Run("detached update resolves by natural key", func(t *testing.T) {
		detached := &metastore.Component{
			RepositoryID: repoID, Namespace: "org.example", Name: "lib", Version: "1.0.0",
			Kind: "maven2",
		}
		require.NoError(t, repo.UpdateComponentKind(ctx, detached))

		got, err := repo.GetComponent(ctx, repoID, "org.example", "lib", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, "maven2", got.Kind)
	})

	t.Run("detached without a key fails", func(t *testing.T) {
		err := repo.UpdateComponentKind(ctx, &metastore.Component{Kind: "maven2"})
		assert.ErrorIs(t, err, metastore.ErrDetachedEntity)
	})

	t.Run("attribute update is change gated", func(t *testing.T) {
		got, err := repo.GetComponentByID(ctx, *component.ComponentID)
		require.NoError(t, err)

		got.Attributes = map[string]any{"packaging": "jar"}
		require.NoError(t, repo.UpdateComponentAttributes(ctx, got))
		updated, err := repo.GetComponentByID(ctx, *component.ComponentID)
		require.NoError(t, err)
		stamp := updated.LastUpdated

		require.NoError(t, repo.UpdateComponentAttributes(ctx, updated))
		again, err := repo.GetComponentByID(ctx, *component.ComponentID)
		require.NoError(t, err)
		assert.Equal(t, stamp, again.LastUpdated)
	})

	t.Run("delete reports presence", func(t *testing.T) {
		scrap := mustCreateComponent(t, repo, repoID, "org.example", "scrap", "1")
		existed, err := repo.DeleteComponent(ctx, scrap)
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = repo.DeleteComponent(ctx, scrap)
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestBrowseComponentsPagination(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	const total, pageSize = 25, 10
	for i := 0; i < total; i++ {
		mustCreateComponent(t, repo, repoID, "org.example", fmt.Sprintf("lib-%02d", i), "1.0")
	}

	var all []*metastore.Component
	var token metastore.ContinuationToken
	pages := 0
	for {
		page, next, err := repo.BrowseComponents(ctx, repoID, pageSize, token)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		pages++
		all = append(all, page...)
		token = next
	}

	assert.Equal(t, 3, pages)
	require.Len(t, all, total)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}
}

func TestBrowseCoordinates(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	mustCreateComponent(t, repo, repoID, "org.example", "lib", "1.9.11")
	mustCreateComponent(t, repo, repoID, "org.example", "lib", "1.10.2")
	mustCreateComponent(t, repo, repoID, "org.example", "other", "2.0")
	mustCreateComponent(t, repo, repoID, "com.acme", "lib", "0.1")

	namespaces, err := repo.BrowseNamespaces(ctx, repoID)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.acme", "org.example"}, namespaces)

	names, err := repo.BrowseNames(ctx, repoID, "org.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib", "other"}, names)

	versions, err := repo.BrowseVersions(ctx, repoID, "org.example", "lib")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.9.11", "1.10.2"}, versions)
}

func TestDeleteComponentsBatch(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	for i := 0; i < 7; i++ {
		mustCreateComponent(t, repo, repoID, "", fmt.Sprintf("lib-%d", i), "1")
	}

	deleted, err := repo.DeleteComponents(ctx, repoID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	// batchSize <= 0 clears the rest.
	deleted, err = repo.DeleteComponents(ctx, repoID, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, deleted)

	deleted, err = repo.DeleteComponents(ctx, repoID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestPurgeComponentsBatches(t *testing.T) {
	ctx := context.Background()
	sink := metastore.NewRecordingEventSink()
	repo, repoID := newTestRepository(t, WithEventSink(sink))

	const total = 201
	ids := make([]int64, 0, total)
	for i := 0; i < total; i++ {
		component := mustCreateComponent(t, repo, repoID, "", fmt.Sprintf("purge-%03d", i), "1")
		ids = append(ids, *component.ComponentID)
	}

	purged, err := repo.PurgeComponents(ctx, repoID, ids)
	require.NoError(t, err)
	assert.Equal(t, total, purged)

	var pre, each, batch int
	var batchCounts []int
	for _, event := range sink.Events() {
		switch event.Kind {
		case "pre-purge":
			pre++
		case "purged":
			each++
		case "batch":
			batch++
			batchCounts = append(batchCounts, event.Count)
		}
	}
	// 201 components split into batches of 100.
	assert.Equal(t, 3, pre)
	assert.Equal(t, total, each)
	assert.Equal(t, 3, batch)
	assert.Equal(t, []int{100, 100, 1}, batchCounts)

	remaining, _, err := repo.BrowseComponents(ctx, repoID, 0, "")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestPurgeComponentsRemovesAssets(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	component := mustCreateComponent(t, repo, repoID, "", "lib", "1")
	asset := &metastore.Asset{
		RepositoryID: repoID,
		ComponentID:  component.ComponentID,
		Path:         "/lib/lib-1.jar",
	}
	require.NoError(t, repo.CreateAsset(ctx, asset, false))

	purged, err := repo.PurgeComponents(ctx, repoID, []int64{*component.ComponentID})
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = repo.GetAsset(ctx, repoID, "/lib/lib-1.jar")
	assert.ErrorIs(t, err, metastore.ErrAssetNotFound)
}

func TestPurgeComponentsIgnoresForeignIDs(t *testing.T) {
	ctx := context.Background()
	repo, repoID := newTestRepository(t)

	otherRecord := &metastore.ContentRepository{ConfigRepositoryID: uuid.New()}
	require.NoError(t, repo.CreateContentRepository(ctx, otherRecord))
	foreign := mustCreateComponent(t, repo, *otherRecord.RepositoryID, "", "alien", "1")

	purged, err := repo.PurgeComponents(ctx, repoID, []int64{*foreign.ComponentID})
	require.NoError(t, err)
	assert.Equal(t, 0, purged)

	_, err = repo.GetComponentByID(ctx, *foreign.ComponentID)
	assert.NoError(t, err)
}
