package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/repo-metadata/pkg/metastore"
)

// Asset blob operations

func (r *Repository) CreateAssetBlob(ctx context.Context, blob *metastore.AssetBlob) error {
	if blob.BlobRef.IsZero() {
		return fmt.Errorf("asset blob ref is required")
	}

	now := time.Now().UTC()
	if blob.BlobCreated.IsZero() {
		blob.BlobCreated = now
	}
	if blob.AddedToRepository.IsZero() {
		blob.AddedToRepository = now
	}

	query := `
		INSERT INTO asset_blob (node, blob_ref, blob_size, content_type, checksums,
			blob_created, added_to_repository, created_by, created_by_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING asset_blob_id`

	err := r.db.QueryRow(ctx, query,
		blob.BlobRef.Node, blob.BlobRef.Persisted(), blob.BlobSize, blob.ContentType,
		blob.Checksums, blob.BlobCreated, blob.AddedToRepository,
		blob.CreatedBy, blob.CreatedByIP).
		Scan(&blob.AssetBlobID)
	if err != nil {
		return r.handlePostgresError("create asset blob", err)
	}
	return nil
}

func (r *Repository) GetAssetBlob(ctx context.Context, ref metastore.BlobRef) (*metastore.AssetBlob, error) {
	query := `
		SELECT asset_blob_id, node, blob_ref, blob_size, content_type, checksums,
			blob_created, added_to_repository, created_by, created_by_ip
		FROM asset_blob WHERE node = $1 AND blob_ref = $2`

	blob, err := scanAssetBlob(r.db.QueryRow(ctx, query, ref.Node, ref.Persisted()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, metastore.ErrAssetBlobNotFound
		}
		return nil, r.handlePostgresError("get asset blob", err)
	}
	return blob, nil
}

func (r *Repository) DeleteAssetBlob(ctx context.Context, ref metastore.BlobRef) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM asset_blob WHERE node = $1 AND blob_ref = $2`,
		ref.Node, ref.Persisted())
	if err != nil {
		return false, r.handlePostgresError("delete asset blob", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) BrowseUnusedAssetBlobs(ctx context.Context, limit int, maxAge time.Duration, token metastore.ContinuationToken) ([]*metastore.AssetBlob, metastore.ContinuationToken, error) {
	query := `
		SELECT b.asset_blob_id, b.node, b.blob_ref, b.blob_size, b.content_type, b.checksums,
			b.blob_created, b.added_to_repository, b.created_by, b.created_by_ip
		FROM asset_blob b
		WHERE NOT EXISTS (SELECT 1 FROM asset a WHERE a.asset_blob_id = b.asset_blob_id)`
	var args []any

	if fields, err := token.Fields(1); err != nil {
		return nil, "", err
	} else if fields != nil {
		after, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid continuation token: %w", err)
		}
		query += fmt.Sprintf(` AND b.asset_blob_id > $%d`, len(args)+1)
		args = append(args, after)
	}
	if maxAge > 0 {
		// Blobs created inside the window stay out of the page, so a blob
		// whose attaching asset has not landed yet is not reported unused.
		query += fmt.Sprintf(` AND b.blob_created < $%d`, len(args)+1)
		args = append(args, time.Now().UTC().Add(-maxAge))
	}
	query += ` ORDER BY b.asset_blob_id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", r.handlePostgresError("browse unused asset blobs", err)
	}
	defer rows.Close()

	var blobs []*metastore.AssetBlob
	for rows.Next() {
		blob, err := scanAssetBlob(rows)
		if err != nil {
			return nil, "", err
		}
		blobs = append(blobs, blob)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var next metastore.ContinuationToken
	if len(blobs) > 0 {
		last := blobs[len(blobs)-1]
		next = metastore.NewContinuationToken(strconv.FormatInt(*last.AssetBlobID, 10))
	}
	return blobs, next, nil
}

func scanAssetBlob(row pgx.Row) (*metastore.AssetBlob, error) {
	var blob metastore.AssetBlob
	var node, persisted string
	if err := row.Scan(
		&blob.AssetBlobID, &node, &persisted, &blob.BlobSize, &blob.ContentType,
		&blob.Checksums, &blob.BlobCreated, &blob.AddedToRepository,
		&blob.CreatedBy, &blob.CreatedByIP); err != nil {
		return nil, err
	}
	ref, err := metastore.ParseBlobRef(node, persisted)
	if err != nil {
		return nil, err
	}
	blob.BlobRef = ref
	return &blob, nil
}
