package postgres

import (
	"context"
	"sort"
	"strings"

	"github.com/tendant/repo-metadata/pkg/metastore"
)

// Browse node operations

func (r *Repository) CreateAssetBrowseNode(ctx context.Context, format string, segments []string, asset *metastore.Asset) error {
	if len(segments) == 0 || asset.AssetID == nil {
		return metastore.ErrDetachedEntity
	}

	leafID, err := r.upsertNodeChain(ctx, asset.RepositoryID, segments)
	if err != nil {
		return err
	}
	// Merge: an existing component id on the leaf is kept.
	_, err = r.db.Exec(ctx,
		`UPDATE browse_node SET asset_id = $2 WHERE browse_node_id = $1`,
		leafID, *asset.AssetID)
	if err != nil {
		return r.handlePostgresError("create asset browse node", err)
	}
	return nil
}

func (r *Repository) CreateComponentBrowseNode(ctx context.Context, format string, segments []string, component *metastore.Component) error {
	if len(segments) == 0 || component.ComponentID == nil {
		return metastore.ErrDetachedEntity
	}

	leafID, err := r.upsertNodeChain(ctx, component.RepositoryID, segments)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`UPDATE browse_node SET component_id = $2 WHERE browse_node_id = $1`,
		leafID, *component.ComponentID)
	if err != nil {
		return r.handlePostgresError("create component browse node", err)
	}
	return nil
}

func (r *Repository) DeleteAssetBrowseNode(ctx context.Context, asset *metastore.Asset) error {
	if asset.AssetID == nil {
		return metastore.ErrDetachedEntity
	}

	query := `
		UPDATE browse_node SET asset_id = NULL
		WHERE asset_id = $1
		RETURNING browse_node_id`

	return r.clearAndPrune(ctx, "delete asset browse node", query, *asset.AssetID)
}

func (r *Repository) DeleteComponentBrowseNode(ctx context.Context, component *metastore.Component) error {
	if component.ComponentID == nil {
		return metastore.ErrDetachedEntity
	}

	query := `
		UPDATE browse_node SET component_id = NULL
		WHERE component_id = $1
		RETURNING browse_node_id`

	return r.clearAndPrune(ctx, "delete component browse node", query, *component.ComponentID)
}

func (r *Repository) DeleteBrowseNodes(ctx context.Context, repositoryID int64, deletePageSize int) (int, error) {
	if deletePageSize <= 0 {
		tag, err := r.db.Exec(ctx, `DELETE FROM browse_node WHERE repository_id = $1`, repositoryID)
		if err != nil {
			return 0, r.handlePostgresError("delete browse nodes", err)
		}
		return int(tag.RowsAffected()), nil
	}

	// Deepest rows first, so the parent self-reference never blocks a page.
	query := `
		DELETE FROM browse_node WHERE browse_node_id IN (
			SELECT browse_node_id FROM browse_node
			WHERE repository_id = $1
			ORDER BY length(path) DESC, path
			LIMIT $2)`

	deleted := 0
	for {
		tag, err := r.db.Exec(ctx, query, repositoryID, deletePageSize)
		if err != nil {
			return deleted, r.handlePostgresError("delete browse nodes", err)
		}
		deleted += int(tag.RowsAffected())
		if tag.RowsAffected() < int64(deletePageSize) {
			return deleted, nil
		}
	}
}

func (r *Repository) AssetBrowseNodeExists(ctx context.Context, asset *metastore.Asset) (bool, error) {
	if asset.AssetID == nil {
		return false, metastore.ErrDetachedEntity
	}

	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM browse_node WHERE asset_id = $1)`, *asset.AssetID).
		Scan(&exists)
	if err != nil {
		return false, r.handlePostgresError("asset browse node exists", err)
	}
	return exists, nil
}

func (r *Repository) GetBrowseNodes(ctx context.Context, repositoryID int64, segments []string, limit int) ([]*metastore.BrowseNode, error) {
	nodes, err := r.childNodes(ctx, repositoryID, segments)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes, nil
}

func (r *Repository) GetBrowseNodesInRepositories(ctx context.Context, req metastore.GroupBrowseRequest) ([]*metastore.BrowseNode, error) {
	identity := req.Identity
	if identity == nil {
		identity = func(node *metastore.BrowseNode) string { return node.Path }
	}

	// Member order decides which duplicate wins; the first member seen keeps
	// its node and later duplicates collapse into it.
	seen := make(map[string]bool)
	var result []*metastore.BrowseNode
	for _, repositoryID := range req.RepositoryIDs {
		nodes, err := r.childNodes(ctx, repositoryID, req.Segments)
		if err != nil {
			return nil, err
		}
		for _, node := range nodes {
			if req.Filter != nil && !req.Filter(node) {
				continue
			}
			key := identity(node)
			if seen[key] {
				continue
			}
			seen[key] = true
			result = append(result, node)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	if req.Limit > 0 && len(result) > req.Limit {
		result = result[:req.Limit]
	}
	return result, nil
}

// upsertNodeChain walks the segment prefixes, creating any missing folder
// nodes, and returns the leaf node id. The ON CONFLICT no-op update makes
// RETURNING yield the existing row, so concurrent creators converge.
func (r *Repository) upsertNodeChain(ctx context.Context, repositoryID int64, segments []string) (int64, error) {
	query := `
		INSERT INTO browse_node (repository_id, parent_id, path, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, path) DO UPDATE SET name = EXCLUDED.name
		RETURNING browse_node_id`

	var parentID *int64
	for i := range segments {
		path := strings.Join(segments[:i+1], "/")
		var nodeID int64
		err := r.db.QueryRow(ctx, query, repositoryID, parentID, path, segments[i]).
			Scan(&nodeID)
		if err != nil {
			return 0, r.handlePostgresError("upsert browse node", err)
		}
		parentID = &nodeID
	}
	return *parentID, nil
}

// clearAndPrune clears one id from the owning node and removes the row once
// it carries no ids and has no children. Ancestor folders stay in place.
func (r *Repository) clearAndPrune(ctx context.Context, operation, clearQuery string, id int64) error {
	rows, err := r.db.Query(ctx, clearQuery, id)
	if err != nil {
		return r.handlePostgresError(operation, err)
	}
	var nodeIDs []int64
	for rows.Next() {
		var nodeID int64
		if err := rows.Scan(&nodeID); err != nil {
			rows.Close()
			return err
		}
		nodeIDs = append(nodeIDs, nodeID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(nodeIDs) == 0 {
		return nil
	}

	prune := `
		DELETE FROM browse_node n
		WHERE n.browse_node_id = ANY($1::bigint[])
		  AND n.asset_id IS NULL AND n.component_id IS NULL
		  AND NOT EXISTS (SELECT 1 FROM browse_node c WHERE c.parent_id = n.browse_node_id)`

	if _, err := r.db.Exec(ctx, prune, nodeIDs); err != nil {
		return r.handlePostgresError(operation, err)
	}
	return nil
}

// childNodes returns the immediate children of the node addressed by the
// path segments (empty segments = repository root), annotated with Leaf.
func (r *Repository) childNodes(ctx context.Context, repositoryID int64, segments []string) ([]*metastore.BrowseNode, error) {
	query := `
		SELECT n.browse_node_id, n.repository_id, n.parent_id, n.path, n.name,
			n.asset_id, n.component_id,
			(n.asset_id IS NOT NULL OR (n.component_id IS NOT NULL AND NOT EXISTS (
				SELECT 1 FROM browse_node c WHERE c.parent_id = n.browse_node_id))) AS leaf
		FROM browse_node n
		WHERE n.repository_id = $1`
	args := []any{repositoryID}

	if len(segments) == 0 {
		query += ` AND n.parent_id IS NULL`
	} else {
		query += ` AND n.parent_id = (
			SELECT browse_node_id FROM browse_node
			WHERE repository_id = $1 AND path = $2)`
		args = append(args, strings.Join(segments, "/"))
	}
	query += ` ORDER BY n.name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("get browse nodes", err)
	}
	defer rows.Close()

	var nodes []*metastore.BrowseNode
	for rows.Next() {
		var node metastore.BrowseNode
		if err := rows.Scan(
			&node.BrowseNodeID, &node.RepositoryID, &node.ParentID, &node.Path,
			&node.Name, &node.AssetID, &node.ComponentID, &node.Leaf); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}
