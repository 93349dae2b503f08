package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/repo-metadata/pkg/metastore"
)

const purgeBatchSize = 100

const componentColumns = `component_id, repository_id, namespace, name, version, kind,
	normalized_version, attributes, entity_version, created, last_updated`

// Component operations

func (r *Repository) CreateComponent(ctx context.Context, component *metastore.Component) error {
	if component.RepositoryID == 0 || component.Name == "" {
		return fmt.Errorf("component repository id and name are required")
	}

	query := `
		INSERT INTO component (repository_id, namespace, name, version, kind, normalized_version, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING component_id, created, last_updated`

	component.NormalizedVersion = metastore.NormalizeVersion(component.Version)
	component.EntityVersion = nil
	err := r.db.QueryRow(ctx, query,
		component.RepositoryID, component.Namespace, component.Name, component.Version,
		component.Kind, component.NormalizedVersion, component.Attributes).
		Scan(&component.ComponentID, &component.Created, &component.LastUpdated)
	if err != nil {
		return r.handlePostgresError("create component", err)
	}
	return nil
}

func (r *Repository) GetComponent(ctx context.Context, repositoryID int64, namespace, name, version string) (*metastore.Component, error) {
	query := `
		SELECT ` + componentColumns + `
		FROM component
		WHERE repository_id = $1 AND namespace = $2 AND name = $3 AND version = $4`

	return r.queryComponent(ctx, query, repositoryID, namespace, name, version)
}

func (r *Repository) GetComponentByID(ctx context.Context, componentID int64) (*metastore.Component, error) {
	query := `
		SELECT ` + componentColumns + `
		FROM component WHERE component_id = $1`

	return r.queryComponent(ctx, query, componentID)
}

func (r *Repository) UpdateComponentAttributes(ctx context.Context, component *metastore.Component) error {
	where, args, err := componentWhere(component, 2)
	if err != nil {
		return err
	}
	query := `
		UPDATE component SET attributes = $1, last_updated = now()
		WHERE ` + where + `
		  AND attributes IS DISTINCT FROM $1`

	_, err = r.db.Exec(ctx, query, append([]any{component.Attributes}, args...)...)
	if err != nil {
		return r.handlePostgresError("update component attributes", err)
	}
	return nil
}

func (r *Repository) UpdateComponentKind(ctx context.Context, component *metastore.Component) error {
	where, args, err := componentWhere(component, 2)
	if err != nil {
		return err
	}
	query := `
		UPDATE component SET kind = $1, last_updated = now()
		WHERE ` + where + `
		  AND kind IS DISTINCT FROM $1`

	_, err = r.db.Exec(ctx, query, append([]any{component.Kind}, args...)...)
	if err != nil {
		return r.handlePostgresError("update component kind", err)
	}
	return nil
}

func (r *Repository) DeleteComponent(ctx context.Context, component *metastore.Component) (bool, error) {
	where, args, err := componentWhere(component, 1)
	if err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM component WHERE `+where, args...)
	if err != nil {
		return false, r.handlePostgresError("delete component", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) DeleteComponents(ctx context.Context, repositoryID int64, batchSize int) (int, error) {
	// batchSize <= 0 clears everything remaining in one call.
	query := `DELETE FROM component WHERE repository_id = $1`
	args := []any{repositoryID}
	if batchSize > 0 {
		query = `
			DELETE FROM component WHERE component_id IN (
				SELECT component_id FROM component WHERE repository_id = $1
				ORDER BY namespace, name, version LIMIT $2)`
		args = append(args, batchSize)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, r.handlePostgresError("delete components", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) BrowseComponents(ctx context.Context, repositoryID int64, limit int, token metastore.ContinuationToken) ([]*metastore.Component, metastore.ContinuationToken, error) {
	query := `
		SELECT ` + componentColumns + `
		FROM component WHERE repository_id = $1`
	args := []any{repositoryID}

	if fields, err := token.Fields(3); err != nil {
		return nil, "", err
	} else if fields != nil {
		query += ` AND (namespace, name, version) > ($2, $3, $4)`
		args = append(args, fields[0], fields[1], fields[2])
	}
	query += ` ORDER BY namespace, name, version`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", r.handlePostgresError("browse components", err)
	}
	defer rows.Close()

	components, err := scanComponents(rows)
	if err != nil {
		return nil, "", err
	}
	var next metastore.ContinuationToken
	if len(components) > 0 {
		last := components[len(components)-1]
		next = metastore.NewContinuationToken(last.Namespace, last.Name, last.Version)
	}
	return components, next, nil
}

func (r *Repository) BrowseNamespaces(ctx context.Context, repositoryID int64) ([]string, error) {
	query := `
		SELECT DISTINCT namespace FROM component
		WHERE repository_id = $1 ORDER BY namespace`

	return r.queryStrings(ctx, "browse namespaces", query, repositoryID)
}

func (r *Repository) BrowseNames(ctx context.Context, repositoryID int64, namespace string) ([]string, error) {
	query := `
		SELECT DISTINCT name FROM component
		WHERE repository_id = $1 AND namespace = $2 ORDER BY name`

	return r.queryStrings(ctx, "browse names", query, repositoryID, namespace)
}

func (r *Repository) BrowseVersions(ctx context.Context, repositoryID int64, namespace, name string) ([]string, error) {
	query := `
		SELECT version FROM component
		WHERE repository_id = $1 AND namespace = $2 AND name = $3
		ORDER BY normalized_version`

	return r.queryStrings(ctx, "browse versions", query, repositoryID, namespace, name)
}

func (r *Repository) PurgeComponents(ctx context.Context, repositoryID int64, componentIDs []int64) (int, error) {
	purged := 0
	for start := 0; start < len(componentIDs); start += purgeBatchSize {
		end := min(start+purgeBatchSize, len(componentIDs))
		batch := componentIDs[start:end]

		// Events fire per logical batch, before and after the removal.
		if err := r.events.ComponentPrePurge(ctx, repositoryID, batch); err != nil {
			r.log.Warn("component pre-purge notification failed", "error", err)
		}

		query := `
			DELETE FROM component
			WHERE repository_id = $1 AND component_id = ANY($2::bigint[])
			RETURNING ` + componentColumns

		rows, err := r.db.Query(ctx, query, repositoryID, batch)
		if err != nil {
			return purged, r.handlePostgresError("purge components", err)
		}
		removed, err := scanComponents(rows)
		rows.Close()
		if err != nil {
			return purged, err
		}

		for _, component := range removed {
			if err := r.events.ComponentPurged(ctx, component); err != nil {
				r.log.Warn("component purged notification failed", "error", err)
			}
		}
		if err := r.events.ComponentsPurged(ctx, repositoryID, len(removed)); err != nil {
			r.log.Warn("components purged notification failed", "error", err)
		}
		purged += len(removed)
	}
	return purged, nil
}

// componentWhere builds the WHERE clause for a possibly detached component,
// falling back to the natural key when the internal id is unset.
func componentWhere(component *metastore.Component, startArg int) (string, []any, error) {
	if component.ComponentID != nil {
		return fmt.Sprintf("component_id = $%d", startArg), []any{*component.ComponentID}, nil
	}
	if component.RepositoryID == 0 || component.Name == "" {
		return "", nil, metastore.ErrDetachedEntity
	}
	where := fmt.Sprintf("repository_id = $%d AND namespace = $%d AND name = $%d AND version = $%d",
		startArg, startArg+1, startArg+2, startArg+3)
	return where, []any{component.RepositoryID, component.Namespace, component.Name, component.Version}, nil
}

func (r *Repository) queryComponent(ctx context.Context, query string, args ...any) (*metastore.Component, error) {
	var component metastore.Component
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&component.ComponentID, &component.RepositoryID, &component.Namespace,
		&component.Name, &component.Version, &component.Kind, &component.NormalizedVersion,
		&component.Attributes, &component.EntityVersion, &component.Created, &component.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, metastore.ErrComponentNotFound
		}
		return nil, r.handlePostgresError("get component", err)
	}
	return &component, nil
}

func (r *Repository) queryStrings(ctx context.Context, operation, query string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError(operation, err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanComponents(rows pgx.Rows) ([]*metastore.Component, error) {
	var components []*metastore.Component
	for rows.Next() {
		var component metastore.Component
		if err := rows.Scan(
			&component.ComponentID, &component.RepositoryID, &component.Namespace,
			&component.Name, &component.Version, &component.Kind, &component.NormalizedVersion,
			&component.Attributes, &component.EntityVersion, &component.Created, &component.LastUpdated); err != nil {
			return nil, err
		}
		components = append(components, &component)
	}
	return components, rows.Err()
}
