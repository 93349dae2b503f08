package memory

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

	r.mu.Lock()
	defer r.mu.Unlock()

	leaf := r.upsertNodeChainLocked(asset.RepositoryID, segments)
	id := *asset.AssetID
	leaf.AssetID = &id
	r.nodeIDsByAsset[id] = *leaf.BrowseNodeID
	return nil
}

func (r *Repository) CreateComponentBrowseNode(ctx context.Context, format string, segments []string, component *metastore.Component) error {
	if len(segments) == 0 || component.ComponentID == nil {
		return metastore.ErrDetachedEntity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	leaf := r.upsertNodeChainLocked(component.RepositoryID, segments)
	id := *component.ComponentID
	leaf.ComponentID = &id
	r.nodeIDsByComponent[id] = *leaf.BrowseNodeID
	return nil
}

func (r *Repository) DeleteAssetBrowseNode(ctx context.Context, asset *metastore.Asset) error {
	if asset.AssetID == nil {
		return metastore.ErrDetachedEntity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nodeID, exists := r.nodeIDsByAsset[*asset.AssetID]
	if !exists {
		return nil
	}
	delete(r.nodeIDsByAsset, *asset.AssetID)

	node := r.nodes[nodeID]
	node.AssetID = nil
	r.pruneNodeLocked(node)
	return nil
}

func (r *Repository) DeleteComponentBrowseNode(ctx context.Context, component *metastore.Component) error {
	if component.ComponentID == nil {
		return metastore.ErrDetachedEntity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nodeID, exists := r.nodeIDsByComponent[*component.ComponentID]
	if !exists {
		return nil
	}
	delete(r.nodeIDsByComponent, *component.ComponentID)

	node := r.nodes[nodeID]
	node.ComponentID = nil
	r.pruneNodeLocked(node)
	return nil
}

func (r *Repository) DeleteBrowseNodes(ctx context.Context, repositoryID int64, deletePageSize int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doomed []*metastore.BrowseNode
	for _, node := range r.nodes {
		if node.RepositoryID == repositoryID {
			doomed = append(doomed, node)
		}
	}
	// Deepest rows first, mirroring the relational backend's page order.
	sort.Slice(doomed, func(i, j int) bool {
		if len(doomed[i].Path) != len(doomed[j].Path) {
			return len(doomed[i].Path) > len(doomed[j].Path)
		}
		return doomed[i].Path < doomed[j].Path
	})

	deleted := 0
	for len(doomed) > 0 {
		page := doomed
		if deletePageSize > 0 && len(page) > deletePageSize {
			page = page[:deletePageSize]
		}
		for _, node := range page {
			if node.AssetID != nil {
				delete(r.nodeIDsByAsset, *node.AssetID)
			}
			if node.ComponentID != nil {
				delete(r.nodeIDsByComponent, *node.ComponentID)
			}
			delete(r.nodes, *node.BrowseNodeID)
			delete(r.nodeIDsByPath, pathKey{repositoryID, node.Path})
			deleted++
		}
		doomed = doomed[len(page):]
	}
	return deleted, nil
}

func (r *Repository) AssetBrowseNodeExists(ctx context.Context, asset *metastore.Asset) (bool, error) {
	if asset.AssetID == nil {
		return false, metastore.ErrDetachedEntity
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.nodeIDsByAsset[*asset.AssetID]
	return exists, nil
}

func (r *Repository) GetBrowseNodes(ctx context.Context, repositoryID int64, segments []string, limit int) ([]*metastore.BrowseNode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	children := r.childNodesLocked(repositoryID, segments)
	if children == nil {
		return nil, nil
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	if limit > 0 && len(children) > limit {
		children = children[:limit]
	}
	return children, nil
}

func (r *Repository) GetBrowseNodesInRepositories(ctx context.Context, req metastore.GroupBrowseRequest) ([]*metastore.BrowseNode, error) {
	identity := req.Identity
	if identity == nil {
		identity = func(node *metastore.BrowseNode) string { return node.Path }
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	// Member order decides which duplicate wins; the first member seen keeps
	// its node and later duplicates collapse into it.
	seen := make(map[string]bool)
	var result []*metastore.BrowseNode
	for _, repositoryID := range req.RepositoryIDs {
		for _, node := range r.childNodesLocked(repositoryID, req.Segments) {
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

// upsertNodeChainLocked walks the segment prefixes, creating any missing
// folder nodes, and returns the stored leaf node.
func (r *Repository) upsertNodeChainLocked(repositoryID int64, segments []string) *metastore.BrowseNode {
	var parentID *int64
	var node *metastore.BrowseNode
	for i := range segments {
		path := strings.Join(segments[:i+1], "/")
		key := pathKey{repositoryID, path}
		if id, exists := r.nodeIDsByPath[key]; exists {
			node = r.nodes[id]
		} else {
			id := r.allocateID()
			node = &metastore.BrowseNode{
				BrowseNodeID: &id,
				RepositoryID: repositoryID,
				ParentID:     parentID,
				Path:         path,
				Name:         segments[i],
			}
			r.nodes[id] = node
			r.nodeIDsByPath[key] = id
		}
		parentID = node.BrowseNodeID
	}
	return node
}

// pruneNodeLocked removes the row once it carries no ids and has no
// children. Ancestor folders are intentionally left in place.
func (r *Repository) pruneNodeLocked(node *metastore.BrowseNode) {
	if node.AssetID != nil || node.ComponentID != nil || r.hasChildrenLocked(*node.BrowseNodeID) {
		return
	}
	delete(r.nodes, *node.BrowseNodeID)
	delete(r.nodeIDsByPath, pathKey{node.RepositoryID, node.Path})
}

func (r *Repository) hasChildrenLocked(nodeID int64) bool {
	for _, node := range r.nodes {
		if node.ParentID != nil && *node.ParentID == nodeID {
			return true
		}
	}
	return false
}

// childNodesLocked returns cloned immediate children of the node addressed
// by segments (empty segments = repository root), annotated with Leaf.
func (r *Repository) childNodesLocked(repositoryID int64, segments []string) []*metastore.BrowseNode {
	var parentID *int64
	if len(segments) > 0 {
		id, exists := r.nodeIDsByPath[pathKey{repositoryID, strings.Join(segments, "/")}]
		if !exists {
			return nil
		}
		parentID = &id
	}

	var result []*metastore.BrowseNode
	for _, node := range r.nodes {
		if node.RepositoryID != repositoryID {
			continue
		}
		if parentID == nil {
			if node.ParentID != nil {
				continue
			}
		} else if node.ParentID == nil || *node.ParentID != *parentID {
			continue
		}
		clone := cloneBrowseNode(node)
		clone.Leaf = node.AssetID != nil ||
			(node.ComponentID != nil && !r.hasChildrenLocked(*node.BrowseNodeID))
		result = append(result, clone)
	}
	return result
}

func cloneBrowseNode(node *metastore.BrowseNode) *metastore.BrowseNode {
	clone := *node
	if node.BrowseNodeID != nil {
		id := *node.BrowseNodeID
		clone.BrowseNodeID = &id
	}
	if node.ParentID != nil {
		id := *node.ParentID
		clone.ParentID = &id
	}
	if node.AssetID != nil {
		id := *node.AssetID
		clone.AssetID = &id
	}
	if node.ComponentID != nil {
		id := *node.ComponentID
		clone.ComponentID = &id
	}
	return &clone
}
