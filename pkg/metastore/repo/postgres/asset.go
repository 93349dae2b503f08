package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/repo-metadata/pkg/metastore"
)

const assetColumns = `asset_id, repository_id, component_id, path, kind, attributes,
	asset_blob_id, last_downloaded, created, last_updated`

// Asset operations

func (r *Repository) CreateAsset(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	if asset.RepositoryID == 0 || asset.Path == "" {
		return fmt.Errorf("asset repository id and path are required")
	}

	query := `
		INSERT INTO asset (repository_id, component_id, path, kind, attributes, asset_blob_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING asset_id, created, last_updated`

	err := r.db.QueryRow(ctx, query,
		asset.RepositoryID, asset.ComponentID, asset.Path, asset.Kind,
		asset.Attributes, asset.AssetBlobID).
		Scan(&asset.AssetID, &asset.Created, &asset.LastUpdated)
	if err != nil {
		return r.handlePostgresError("create asset", err)
	}

	if bumpOwnerVersion && asset.ComponentID != nil {
		return r.bumpOwnerVersion(ctx, *asset.ComponentID)
	}
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, repositoryID int64, path string) (*metastore.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset WHERE repository_id = $1 AND path = $2`

	return r.queryAsset(ctx, query, repositoryID, path)
}

func (r *Repository) GetAssetByID(ctx context.Context, assetID int64) (*metastore.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset WHERE asset_id = $1`

	return r.queryAsset(ctx, query, assetID)
}

func (r *Repository) GetAssetsByPaths(ctx context.Context, repositoryID int64, paths []string) ([]*metastore.Asset, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset WHERE repository_id = $1 AND path = ANY($2::text[])
		ORDER BY path`

	rows, err := r.db.Query(ctx, query, repositoryID, paths)
	if err != nil {
		return nil, r.handlePostgresError("get assets by paths", err)
	}
	defer rows.Close()
	return scanAssets(rows)
}

func (r *Repository) FindAssetByBlobRef(ctx context.Context, repositoryID int64, ref metastore.BlobRef) (*metastore.Asset, error) {
	query := `
		SELECT ` + prefixedAssetColumns("a") + `
		FROM asset a
		JOIN asset_blob b ON b.asset_blob_id = a.asset_blob_id
		WHERE a.repository_id = $1 AND b.node = $2 AND b.blob_ref = $3`

	return r.queryAsset(ctx, query, repositoryID, ref.Node, ref.Persisted())
}

func (r *Repository) UpdateAssetAttributes(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	where, args, err := assetWhere(asset, 2)
	if err != nil {
		return err
	}
	query := `
		UPDATE asset SET attributes = $1, last_updated = now()
		WHERE ` + where + `
		  AND attributes IS DISTINCT FROM $1
		RETURNING component_id`

	return r.execChangeGated(ctx, "update asset attributes", query,
		append([]any{asset.Attributes}, args...), asset, bumpOwnerVersion)
}

func (r *Repository) UpdateAssetKind(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	where, args, err := assetWhere(asset, 2)
	if err != nil {
		return err
	}
	query := `
		UPDATE asset SET kind = $1, last_updated = now()
		WHERE ` + where + `
		  AND kind IS DISTINCT FROM $1
		RETURNING component_id`

	return r.execChangeGated(ctx, "update asset kind", query,
		append([]any{asset.Kind}, args...), asset, bumpOwnerVersion)
}

func (r *Repository) UpdateAssetBlobLink(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) error {
	where, args, err := assetWhere(asset, 2)
	if err != nil {
		return err
	}
	query := `
		UPDATE asset SET asset_blob_id = $1, last_updated = now()
		WHERE ` + where + `
		  AND asset_blob_id IS DISTINCT FROM $1
		RETURNING component_id`

	return r.execChangeGated(ctx, "update asset blob link", query,
		append([]any{asset.AssetBlobID}, args...), asset, bumpOwnerVersion)
}

func (r *Repository) MarkAssetDownloaded(ctx context.Context, asset *metastore.Asset) error {
	where, args, err := assetWhere(asset, 1)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE asset SET last_downloaded = now(), last_updated = now() WHERE `+where, args...)
	if err != nil {
		return r.handlePostgresError("mark asset downloaded", err)
	}
	if tag.RowsAffected() == 0 {
		return metastore.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) SetAssetLastDownloaded(ctx context.Context, assetID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE asset SET last_downloaded = $2, last_updated = now() WHERE asset_id = $1`,
		assetID, at)
	if err != nil {
		return r.handlePostgresError("set asset last downloaded", err)
	}
	if tag.RowsAffected() == 0 {
		return metastore.ErrAssetNotFound
	}
	return nil
}

func (r *Repository) SetAssetLastUpdated(ctx context.Context, assetID int64, at time.Time, bumpOwnerVersion bool) error {
	var componentID *int64
	err := r.db.QueryRow(ctx,
		`UPDATE asset SET last_updated = $2 WHERE asset_id = $1 RETURNING component_id`,
		assetID, at).Scan(&componentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return metastore.ErrAssetNotFound
		}
		return r.handlePostgresError("set asset last updated", err)
	}
	if bumpOwnerVersion && componentID != nil {
		return r.bumpOwnerVersion(ctx, *componentID)
	}
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, asset *metastore.Asset, bumpOwnerVersion bool) (bool, error) {
	where, args, err := assetWhere(asset, 1)
	if err != nil {
		return false, err
	}

	var componentID *int64
	err = r.db.QueryRow(ctx, `DELETE FROM asset WHERE `+where+` RETURNING component_id`, args...).
		Scan(&componentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, r.handlePostgresError("delete asset", err)
	}
	if bumpOwnerVersion && componentID != nil {
		return true, r.bumpOwnerVersion(ctx, *componentID)
	}
	return true, nil
}

func (r *Repository) DeleteAssetsByPaths(ctx context.Context, repositoryID int64, paths []string, bumpOwnerVersion bool) (int, error) {
	if r.versioning && bumpOwnerVersion {
		// Each affected component is bumped exactly once, however many of
		// its assets the call removed.
		query := `
			WITH doomed AS (
				DELETE FROM asset
				WHERE repository_id = $1 AND path = ANY($2::text[])
				RETURNING asset_id, component_id
			), bumped AS (
				UPDATE component SET entity_version = COALESCE(entity_version, 0) + 1
				WHERE component_id IN (
					SELECT DISTINCT component_id FROM doomed WHERE component_id IS NOT NULL)
			)
			SELECT count(*) FROM doomed`

		var deleted int
		if err := r.db.QueryRow(ctx, query, repositoryID, paths).Scan(&deleted); err != nil {
			return 0, r.handlePostgresError("delete assets by paths", err)
		}
		return deleted, nil
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM asset WHERE repository_id = $1 AND path = ANY($2::text[])`,
		repositoryID, paths)
	if err != nil {
		return 0, r.handlePostgresError("delete assets by paths", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) DeleteAssets(ctx context.Context, repositoryID int64, batchSize int) (int, error) {
	// batchSize <= 0 clears everything remaining in one call.
	match := `repository_id = $1`
	args := []any{repositoryID}
	if batchSize > 0 {
		match = `asset_id IN (
				SELECT asset_id FROM asset WHERE repository_id = $1
				ORDER BY path LIMIT $2)`
		args = append(args, batchSize)
	}

	if r.versioning {
		// Each affected component is bumped exactly once, however many of
		// its assets the call removed.
		query := `
			WITH doomed AS (
				DELETE FROM asset WHERE ` + match + `
				RETURNING asset_id, component_id
			), bumped AS (
				UPDATE component SET entity_version = COALESCE(entity_version, 0) + 1
				WHERE component_id IN (
					SELECT DISTINCT component_id FROM doomed WHERE component_id IS NOT NULL)
			)
			SELECT count(*) FROM doomed`

		var deleted int
		if err := r.db.QueryRow(ctx, query, args...).Scan(&deleted); err != nil {
			return 0, r.handlePostgresError("delete assets", err)
		}
		return deleted, nil
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM asset WHERE `+match, args...)
	if err != nil {
		return 0, r.handlePostgresError("delete assets", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) BrowseAssets(ctx context.Context, req metastore.BrowseAssetsRequest) ([]*metastore.Asset, metastore.ContinuationToken, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset WHERE repository_id = $1`
	args := []any{req.RepositoryID}

	query, args, err := appendAssetPredicates(query, args, req)
	if err != nil {
		return nil, "", err
	}
	if fields, err := req.ContinuationToken.Fields(1); err != nil {
		return nil, "", err
	} else if fields != nil {
		query += fmt.Sprintf(` AND path > $%d`, len(args)+1)
		args = append(args, fields[0])
	}
	query += ` ORDER BY path`
	if req.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, req.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", r.handlePostgresError("browse assets", err)
	}
	defer rows.Close()

	assets, err := scanAssets(rows)
	if err != nil {
		return nil, "", err
	}
	var next metastore.ContinuationToken
	if len(assets) > 0 {
		next = metastore.NewContinuationToken(assets[len(assets)-1].Path)
	}
	return assets, next, nil
}

func (r *Repository) CountAssets(ctx context.Context, req metastore.BrowseAssetsRequest) (int64, error) {
	query := `SELECT count(*) FROM asset WHERE repository_id = $1`
	args := []any{req.RepositoryID}

	query, args, err := appendAssetPredicates(query, args, req)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, r.handlePostgresError("count assets", err)
	}
	return count, nil
}

func (r *Repository) BrowseAssetsInRepositories(ctx context.Context, repositoryIDs []int64, req metastore.BrowseAssetsRequest) ([]*metastore.Asset, metastore.ContinuationToken, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM asset WHERE repository_id = ANY($1::bigint[])`
	args := []any{repositoryIDs}

	query, args, err := appendAssetPredicates(query, args, req)
	if err != nil {
		return nil, "", err
	}
	if fields, err := req.ContinuationToken.Fields(2); err != nil {
		return nil, "", err
	} else if fields != nil {
		query += fmt.Sprintf(` AND (path, repository_id) > ($%d, $%d::bigint)`, len(args)+1, len(args)+2)
		args = append(args, fields[0], fields[1])
	}
	query += ` ORDER BY path, repository_id`
	if req.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, req.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", r.handlePostgresError("browse assets in repositories", err)
	}
	defer rows.Close()

	assets, err := scanAssets(rows)
	if err != nil {
		return nil, "", err
	}
	var next metastore.ContinuationToken
	if len(assets) > 0 {
		last := assets[len(assets)-1]
		next = metastore.NewContinuationToken(last.Path, fmt.Sprintf("%d", last.RepositoryID))
	}
	return assets, next, nil
}

func (r *Repository) BrowseAssetsEager(ctx context.Context, repositoryID int64, limit int, token metastore.ContinuationToken) ([]*metastore.Asset, metastore.ContinuationToken, error) {
	query := `
		SELECT ` + prefixedAssetColumns("a") + `,
			c.namespace, c.name, c.version, c.kind, c.normalized_version,
			c.attributes, c.entity_version, c.created, c.last_updated,
			b.node, b.blob_ref, b.blob_size, b.content_type, b.checksums,
			b.blob_created, b.added_to_repository, b.created_by, b.created_by_ip
		FROM asset a
		LEFT JOIN component c ON c.component_id = a.component_id
		LEFT JOIN asset_blob b ON b.asset_blob_id = a.asset_blob_id
		WHERE a.repository_id = $1`
	args := []any{repositoryID}

	if fields, err := token.Fields(1); err != nil {
		return nil, "", err
	} else if fields != nil {
		query += ` AND a.path > $2`
		args = append(args, fields[0])
	}
	query += ` ORDER BY a.path`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", r.handlePostgresError("browse assets eager", err)
	}
	defer rows.Close()

	var assets []*metastore.Asset
	for rows.Next() {
		var asset metastore.Asset
		var cNamespace, cName, cVersion, cKind, cNormalized *string
		var cAttributes map[string]any
		var cEntityVersion *int
		var cCreated, cLastUpdated *time.Time
		var bNode, bRef, bContentType, bCreatedBy, bCreatedByIP *string
		var bSize *int64
		var bChecksums map[string]string
		var bBlobCreated, bAdded *time.Time

		if err := rows.Scan(
			&asset.AssetID, &asset.RepositoryID, &asset.ComponentID, &asset.Path,
			&asset.Kind, &asset.Attributes, &asset.AssetBlobID, &asset.LastDownloaded,
			&asset.Created, &asset.LastUpdated,
			&cNamespace, &cName, &cVersion, &cKind, &cNormalized,
			&cAttributes, &cEntityVersion, &cCreated, &cLastUpdated,
			&bNode, &bRef, &bSize, &bContentType, &bChecksums,
			&bBlobCreated, &bAdded, &bCreatedBy, &bCreatedByIP); err != nil {
			return nil, "", err
		}

		if asset.ComponentID != nil && cName != nil {
			asset.Component = &metastore.Component{
				ComponentID:       asset.ComponentID,
				RepositoryID:      asset.RepositoryID,
				Namespace:         *cNamespace,
				Name:              *cName,
				Version:           *cVersion,
				Kind:              *cKind,
				NormalizedVersion: *cNormalized,
				Attributes:        cAttributes,
				EntityVersion:     cEntityVersion,
				Created:           *cCreated,
				LastUpdated:       *cLastUpdated,
			}
		}
		if asset.AssetBlobID != nil && bRef != nil {
			ref, err := metastore.ParseBlobRef(*bNode, *bRef)
			if err != nil {
				return nil, "", err
			}
			asset.Blob = &metastore.AssetBlob{
				AssetBlobID:       asset.AssetBlobID,
				BlobRef:           ref,
				BlobSize:          *bSize,
				ContentType:       *bContentType,
				Checksums:         bChecksums,
				BlobCreated:       *bBlobCreated,
				AddedToRepository: *bAdded,
				CreatedBy:         *bCreatedBy,
				CreatedByIP:       *bCreatedByIP,
			}
		}
		assets = append(assets, &asset)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next metastore.ContinuationToken
	if len(assets) > 0 {
		next = metastore.NewContinuationToken(assets[len(assets)-1].Path)
	}
	return assets, next, nil
}

func (r *Repository) FindAssetsByComponentIDs(ctx context.Context, componentIDs []int64) ([]*metastore.AssetInfo, error) {
	query := `
		SELECT a.asset_id, a.path, COALESCE(b.content_type, ''), a.last_updated, b.checksums
		FROM asset a
		LEFT JOIN asset_blob b ON b.asset_blob_id = a.asset_blob_id
		WHERE a.component_id = ANY($1::bigint[])
		ORDER BY a.path`

	rows, err := r.db.Query(ctx, query, componentIDs)
	if err != nil {
		return nil, r.handlePostgresError("find assets by component ids", err)
	}
	defer rows.Close()

	var infos []*metastore.AssetInfo
	for rows.Next() {
		var info metastore.AssetInfo
		if err := rows.Scan(&info.AssetID, &info.Path, &info.ContentType,
			&info.LastUpdated, &info.Checksums); err != nil {
			return nil, err
		}
		infos = append(infos, &info)
	}
	return infos, rows.Err()
}

func (r *Repository) FindAddedInRange(ctx context.Context, req metastore.AddedToRepositoryRequest) ([]*metastore.Asset, error) {
	return r.findAdded(ctx, req, true)
}

func (r *Repository) FindAddedSince(ctx context.Context, req metastore.AddedToRepositoryRequest) ([]*metastore.Asset, error) {
	return r.findAdded(ctx, req, false)
}

func (r *Repository) findAdded(ctx context.Context, req metastore.AddedToRepositoryRequest, bounded bool) ([]*metastore.Asset, error) {
	// Both sides truncate to milliseconds so the comparison is exact
	// regardless of the precision the timestamps were captured at.
	query := `
		SELECT ` + prefixedAssetColumns("a") + `
		FROM asset a
		JOIN asset_blob b ON b.asset_blob_id = a.asset_blob_id
		WHERE a.repository_id = $1
		  AND date_trunc('milliseconds', b.added_to_repository) >= date_trunc('milliseconds', $2::timestamptz)`
	args := []any{req.RepositoryID, truncateMillis(req.From)}

	if bounded {
		query += ` AND date_trunc('milliseconds', b.added_to_repository) < date_trunc('milliseconds', $3::timestamptz)`
		args = append(args, truncateMillis(req.To))
	}
	if len(req.PathRegexes) > 0 {
		query += fmt.Sprintf(` AND a.path ~ ANY($%d::text[])`, len(args)+1)
		args = append(args, req.PathRegexes)
	}
	query += ` ORDER BY a.path`
	if req.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, req.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("find added assets", err)
	}
	defer rows.Close()
	return scanAssets(rows)
}

func (r *Repository) PurgeNotRecentlyDownloaded(ctx context.Context, repositoryID int64, thresholdDays int, batchLimit int) (int, error) {
	selected, err := r.SelectNotRecentlyDownloaded(ctx, repositoryID, thresholdDays, batchLimit)
	if err != nil {
		return 0, err
	}
	if len(selected) == 0 {
		return 0, nil
	}
	return r.PurgeSelectedAssets(ctx, selected)
}

func (r *Repository) SelectNotRecentlyDownloaded(ctx context.Context, repositoryID int64, thresholdDays int, batchLimit int) ([]int64, error) {
	// Assets never downloaded are kept; only stale downloads qualify.
	cutoff := time.Now().UTC().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	query := `
		SELECT asset_id FROM asset
		WHERE repository_id = $1 AND last_downloaded IS NOT NULL AND last_downloaded < $2
		ORDER BY asset_id`
	args := []any{repositoryID, cutoff}

	if batchLimit > 0 {
		query += ` LIMIT $3`
		args = append(args, batchLimit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("select not recently downloaded", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) PurgeSelectedAssets(ctx context.Context, assetIDs []int64) (int, error) {
	if len(assetIDs) == 0 {
		return 0, nil
	}
	if r.versioning {
		query := `
			WITH doomed AS (
				DELETE FROM asset WHERE asset_id = ANY($1::bigint[])
				RETURNING asset_id, component_id
			), bumped AS (
				UPDATE component SET entity_version = COALESCE(entity_version, 0) + 1
				WHERE component_id IN (
					SELECT DISTINCT component_id FROM doomed WHERE component_id IS NOT NULL)
			)
			SELECT count(*) FROM doomed`

		var purged int
		if err := r.db.QueryRow(ctx, query, assetIDs).Scan(&purged); err != nil {
			return 0, r.handlePostgresError("purge selected assets", err)
		}
		return purged, nil
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM asset WHERE asset_id = ANY($1::bigint[])`, assetIDs)
	if err != nil {
		return 0, r.handlePostgresError("purge selected assets", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) AssetRecordsExist(ctx context.Context, ref metastore.BlobRef) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM asset a
			JOIN asset_blob b ON b.asset_blob_id = a.asset_blob_id
			WHERE b.node = $1 AND b.blob_ref = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, ref.Node, ref.Persisted()).Scan(&exists); err != nil {
		return false, r.handlePostgresError("asset records exist", err)
	}
	return exists, nil
}

// execChangeGated runs a change-gated UPDATE that returns the owning
// component id when a row actually changed. Zero rows means either no change
// or no such asset; the follow-up existence check tells them apart.
func (r *Repository) execChangeGated(ctx context.Context, operation, query string, args []any, asset *metastore.Asset, bumpOwnerVersion bool) error {
	var componentID *int64
	err := r.db.QueryRow(ctx, query, args...).Scan(&componentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.assetExists(ctx, asset)
		}
		return r.handlePostgresError(operation, err)
	}
	if bumpOwnerVersion && componentID != nil {
		return r.bumpOwnerVersion(ctx, *componentID)
	}
	return nil
}

func (r *Repository) assetExists(ctx context.Context, asset *metastore.Asset) error {
	where, args, err := assetWhere(asset, 1)
	if err != nil {
		return err
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM asset WHERE `+where+`)`, args...).
		Scan(&exists)
	if err != nil {
		return r.handlePostgresError("asset exists", err)
	}
	if !exists {
		return metastore.ErrAssetNotFound
	}
	return nil
}

// assetWhere builds the WHERE clause for a possibly detached asset, falling
// back to (repository, path) when the internal id is unset.
func assetWhere(asset *metastore.Asset, startArg int) (string, []any, error) {
	if asset.AssetID != nil {
		return fmt.Sprintf("asset_id = $%d", startArg), []any{*asset.AssetID}, nil
	}
	if asset.RepositoryID == 0 || asset.Path == "" {
		return "", nil, metastore.ErrDetachedEntity
	}
	where := fmt.Sprintf("repository_id = $%d AND path = $%d", startArg, startArg+1)
	return where, []any{asset.RepositoryID, asset.Path}, nil
}

func appendAssetPredicates(query string, args []any, req metastore.BrowseAssetsRequest) (string, []any, error) {
	if req.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, len(args)+1)
		args = append(args, req.Kind)
	}
	if req.Filter != nil {
		fragment, filterArgs, err := req.Filter.SQL(len(args) + 1)
		if err != nil {
			return "", nil, err
		}
		query += ` AND (` + fragment + `)`
		args = append(args, filterArgs...)
	}
	return query, args, nil
}

func prefixedAssetColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.asset_id, %[1]s.repository_id, %[1]s.component_id, %[1]s.path,
	%[1]s.kind, %[1]s.attributes, %[1]s.asset_blob_id, %[1]s.last_downloaded,
	%[1]s.created, %[1]s.last_updated`, alias)
}

func (r *Repository) queryAsset(ctx context.Context, query string, args ...any) (*metastore.Asset, error) {
	var asset metastore.Asset
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&asset.AssetID, &asset.RepositoryID, &asset.ComponentID, &asset.Path,
		&asset.Kind, &asset.Attributes, &asset.AssetBlobID, &asset.LastDownloaded,
		&asset.Created, &asset.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, metastore.ErrAssetNotFound
		}
		return nil, r.handlePostgresError("get asset", err)
	}
	return &asset, nil
}

func scanAssets(rows pgx.Rows) ([]*metastore.Asset, error) {
	var assets []*metastore.Asset
	for rows.Next() {
		var asset metastore.Asset
		if err := rows.Scan(
			&asset.AssetID, &asset.RepositoryID, &asset.ComponentID, &asset.Path,
			&asset.Kind, &asset.Attributes, &asset.AssetBlobID, &asset.LastDownloaded,
			&asset.Created, &asset.LastUpdated); err != nil {
			return nil, err
		}
		assets = append(assets, &asset)
	}
	return assets, rows.Err()
}
