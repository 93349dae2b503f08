package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tendant/repo-metadata/pkg/metastore"
)

// Component operations

func (r *Repository) CreateComponent(ctx context.Context, component *metastore.Component) error {
	if component.RepositoryID == 0 || component.Name == "" {
		return fmt.Errorf("component repository id and name are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := coordinate{component.RepositoryID, component.Namespace, component.Name, component.Version}
	if _, exists := r.componentIDsByCoordinate[key]; exists {
		return fmt.Errorf("%w: component %s/%s/%s", metastore.ErrDuplicateKey,
			component.Namespace, component.Name, component.Version)
	}

	now := time.Now().UTC()
	id := r.allocateID()
	component.ComponentID = &id
	component.NormalizedVersion = metastore.NormalizeVersion(component.Version)
	component.EntityVersion = nil
	component.Created = now
	component.LastUpdated = now

	stored := *component
	stored.Attributes = cloneAttributes(component.Attributes)
	r.components[id] = &stored
	r.componentIDsByCoordinate[key] = id

	return nil
}

func (r *Repository) GetComponent(ctx context.Context, repositoryID int64, namespace, name, version string) (*metastore.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.componentIDsByCoordinate[coordinate{repositoryID, namespace, name, version}]
	if !exists {
		return nil, metastore.ErrComponentNotFound
	}
	return cloneComponent(r.components[id]), nil
}

func (r *Repository) GetComponentByID(ctx context.Context, componentID int64) (*metastore.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	component, exists := r.components[componentID]
	if !exists {
		return nil, metastore.ErrComponentNotFound
	}
	return cloneComponent(component), nil
}

func (r *Repository) UpdateComponentAttributes(ctx context.Context, component *metastore.Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveComponentLocked(component)
	if err != nil {
		return err
	}
	if attributesEqual(stored.Attributes, component.Attributes) {
		return nil
	}
	stored.Attributes = cloneAttributes(component.Attributes)
	stored.LastUpdated = time.Now().UTC()
	return nil
}

func (r *Repository) UpdateComponentKind(ctx context.Context, component *metastore.Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveComponentLocked(component)
	if err != nil {
		return err
	}
	if stored.Kind == component.Kind {
		return nil
	}
	stored.Kind = component.Kind
	stored.LastUpdated = time.Now().UTC()
	return nil
}

func (r *Repository) DeleteComponent(ctx context.Context, component *metastore.Component) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveComponentLocked(component)
	if err != nil {
		if err == metastore.ErrComponentNotFound {
			return false, nil
		}
		return false, err
	}
	r.removeComponentLocked(stored)
	return true, nil
}

func (r *Repository) DeleteComponents(ctx context.Context, repositoryID int64, batchSize int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doomed := r.componentsOfRepositoryLocked(repositoryID)
	// batchSize <= 0 clears everything remaining; preserved reference behavior.
	if batchSize > 0 && len(doomed) > batchSize {
		doomed = doomed[:batchSize]
	}
	for _, component := range doomed {
		r.removeComponentLocked(component)
	}
	return len(doomed), nil
}

func (r *Repository) BrowseComponents(ctx context.Context, repositoryID int64, limit int, token metastore.ContinuationToken) ([]*metastore.Component, metastore.ContinuationToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := r.componentsOfRepositoryLocked(repositoryID)

	if fields, err := token.Fields(3); err != nil {
		return nil, "", err
	} else if fields != nil {
		after := coordinate{repositoryID, fields[0], fields[1], fields[2]}
		filtered := components[:0]
		for _, c := range components {
			if coordinateLess(after, coordinate{repositoryID, c.Namespace, c.Name, c.Version}) {
				filtered = append(filtered, c)
			}
		}
		components = filtered
	}
	if limit > 0 && len(components) > limit {
		components = components[:limit]
	}

	result := make([]*metastore.Component, 0, len(components))
	for _, c := range components {
		result = append(result, cloneComponent(c))
	}
	var next metastore.ContinuationToken
	if len(result) > 0 {
		last := result[len(result)-1]
		next = metastore.NewContinuationToken(last.Namespace, last.Name, last.Version)
	}
	return result, next, nil
}

func (r *Repository) BrowseNamespaces(ctx context.Context, repositoryID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	for _, c := range r.components {
		if c.RepositoryID == repositoryID && !seen[c.Namespace] {
			seen[c.Namespace] = true
			result = append(result, c.Namespace)
		}
	}
	sort.Strings(result)
	return result, nil
}

func (r *Repository) BrowseNames(ctx context.Context, repositoryID int64, namespace string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	for _, c := range r.components {
		if c.RepositoryID == repositoryID && c.Namespace == namespace && !seen[c.Name] {
			seen[c.Name] = true
			result = append(result, c.Name)
		}
	}
	sort.Strings(result)
	return result, nil
}

func (r *Repository) BrowseVersions(ctx context.Context, repositoryID int64, namespace, name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	for _, c := range r.components {
		if c.RepositoryID == repositoryID && c.Namespace == namespace && c.Name == name && !seen[c.Version] {
			seen[c.Version] = true
			result = append(result, c.Version)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return metastore.NormalizeVersion(result[i]) < metastore.NormalizeVersion(result[j])
	})
	return result, nil
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

		r.mu.Lock()
		var removed []*metastore.Component
		for _, id := range batch {
			component, exists := r.components[id]
			if !exists || component.RepositoryID != repositoryID {
				continue
			}
			for _, asset := range r.assetsOfComponentLocked(id) {
				r.removeAssetLocked(asset)
			}
			removed = append(removed, cloneComponent(component))
			r.removeComponentLocked(component)
		}
		r.mu.Unlock()

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

// resolveComponentLocked locates the stored row for a possibly detached
// component, re-resolving by natural key when the internal id is unset.
func (r *Repository) resolveComponentLocked(component *metastore.Component) (*metastore.Component, error) {
	if component.ComponentID != nil {
		stored, exists := r.components[*component.ComponentID]
		if !exists {
			return nil, metastore.ErrComponentNotFound
		}
		return stored, nil
	}
	if component.RepositoryID == 0 || component.Name == "" {
		return nil, metastore.ErrDetachedEntity
	}
	key := coordinate{component.RepositoryID, component.Namespace, component.Name, component.Version}
	id, exists := r.componentIDsByCoordinate[key]
	if !exists {
		return nil, metastore.ErrComponentNotFound
	}
	return r.components[id], nil
}

func (r *Repository) removeComponentLocked(component *metastore.Component) {
	delete(r.components, *component.ComponentID)
	delete(r.componentIDsByCoordinate,
		coordinate{component.RepositoryID, component.Namespace, component.Name, component.Version})
}

func (r *Repository) componentsOfRepositoryLocked(repositoryID int64) []*metastore.Component {
	var result []*metastore.Component
	for _, c := range r.components {
		if c.RepositoryID == repositoryID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return coordinateLess(
			coordinate{repositoryID, result[i].Namespace, result[i].Name, result[i].Version},
			coordinate{repositoryID, result[j].Namespace, result[j].Name, result[j].Version})
	})
	return result
}

func (r *Repository) assetsOfComponentLocked(componentID int64) []*metastore.Asset {
	var result []*metastore.Asset
	for _, a := range r.assets {
		if a.ComponentID != nil && *a.ComponentID == componentID {
			result = append(result, a)
		}
	}
	return result
}

func coordinateLess(a, b coordinate) bool {
	if a.namespace != b.namespace {
		return a.namespace < b.namespace
	}
	if a.name != b.name {
		return a.name < b.name
	}
	return a.version < b.version
}

func cloneComponent(component *metastore.Component) *metastore.Component {
	clone := *component
	if component.ComponentID != nil {
		id := *component.ComponentID
		clone.ComponentID = &id
	}
	if component.EntityVersion != nil {
		v := *component.EntityVersion
		clone.EntityVersion = &v
	}
	clone.Attributes = cloneAttributes(component.Attributes)
	return &clone
}
