package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/repo-metadata/pkg/metastore"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements metastore.Repository using PostgreSQL
type Repository struct {
	db         DBTX
	versioning bool
	events     metastore.EventSink
	log        *slog.Logger
}

// Option configures the repository.
type Option func(*Repository)

// WithEntityVersioning enables component entity-version tracking for this
// store. Versioning is a per-store (per-format) property, not a per-call one.
func WithEntityVersioning() Option {
	return func(r *Repository) {
		r.versioning = true
	}
}

// WithEventSink sets the sink receiving purge lifecycle notifications.
func WithEventSink(sink metastore.EventSink) Option {
	return func(r *Repository) {
		r.events = sink
	}
}

// WithLogger sets the logger used by batch operations.
func WithLogger(log *slog.Logger) Option {
	return func(r *Repository) {
		r.log = log
	}
}

// New creates a new PostgreSQL repository
func New(db DBTX, opts ...Option) metastore.Repository {
	r := &Repository{
		db:     db,
		events: metastore.NewNoopEventSink(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool, opts ...Option) metastore.Repository {
	return New(pool, opts...)
}

// Migrate applies the embedded schema. Statements are idempotent, so running
// it against an up-to-date database is harmless.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w (%s)", metastore.ErrDuplicateKey, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found (%s)", pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return &metastore.StoreError{Op: operation, Err: err}
}

// Content repository operations

func (r *Repository) CreateContentRepository(ctx context.Context, repo *metastore.ContentRepository) error {
	if repo.ConfigRepositoryID == uuid.Nil {
		return fmt.Errorf("config repository id is required")
	}

	query := `
		INSERT INTO content_repository (config_repository_id, attributes)
		VALUES ($1, $2)
		RETURNING repository_id, created, last_updated`

	err := r.db.QueryRow(ctx, query, repo.ConfigRepositoryID, repo.Attributes).
		Scan(&repo.RepositoryID, &repo.Created, &repo.LastUpdated)
	if err != nil {
		return r.handlePostgresError("create content repository", err)
	}
	return nil
}

func (r *Repository) GetContentRepository(ctx context.Context, configRepositoryID uuid.UUID) (*metastore.ContentRepository, error) {
	query := `
		SELECT repository_id, config_repository_id, attributes, created, last_updated
		FROM content_repository WHERE config_repository_id = $1`

	var repo metastore.ContentRepository
	err := r.db.QueryRow(ctx, query, configRepositoryID).Scan(
		&repo.RepositoryID, &repo.ConfigRepositoryID, &repo.Attributes,
		&repo.Created, &repo.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, metastore.ErrContentRepositoryNotFound
		}
		return nil, r.handlePostgresError("get content repository", err)
	}
	return &repo, nil
}

func (r *Repository) UpdateContentRepositoryAttributes(ctx context.Context, repo *metastore.ContentRepository) error {
	// Change-gated: an identical value leaves last_updated untouched.
	query := `
		UPDATE content_repository SET attributes = $2, last_updated = now()
		WHERE config_repository_id = $1
		  AND attributes IS DISTINCT FROM $2`

	_, err := r.db.Exec(ctx, query, repo.ConfigRepositoryID, repo.Attributes)
	if err != nil {
		return r.handlePostgresError("update content repository attributes", err)
	}
	return nil
}

func (r *Repository) DeleteContentRepository(ctx context.Context, repo *metastore.ContentRepository) (bool, error) {
	query := `DELETE FROM content_repository WHERE config_repository_id = $1`

	tag, err := r.db.Exec(ctx, query, repo.ConfigRepositoryID)
	if err != nil {
		return false, r.handlePostgresError("delete content repository", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) BrowseContentRepositories(ctx context.Context) ([]*metastore.ContentRepository, error) {
	query := `
		SELECT repository_id, config_repository_id, attributes, created, last_updated
		FROM content_repository ORDER BY repository_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("browse content repositories", err)
	}
	defer rows.Close()

	var repos []*metastore.ContentRepository
	for rows.Next() {
		var repo metastore.ContentRepository
		if err := rows.Scan(
			&repo.RepositoryID, &repo.ConfigRepositoryID, &repo.Attributes,
			&repo.Created, &repo.LastUpdated); err != nil {
			return nil, err
		}
		repos = append(repos, &repo)
	}
	return repos, rows.Err()
}

// bumpOwnerVersion increments a component's entity version from the stored
// row. Nil moves to 1 on the first structural change.
func (r *Repository) bumpOwnerVersion(ctx context.Context, componentID int64) error {
	if !r.versioning {
		return nil
	}
	query := `
		UPDATE component SET entity_version = COALESCE(entity_version, 0) + 1
		WHERE component_id = $1`

	if _, err := r.db.Exec(ctx, query, componentID); err != nil {
		return r.handlePostgresError("bump entity version", err)
	}
	return nil
}

func truncateMillis(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
