package memory

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/repo-metadata/pkg/metastore"
)

// purgeBatchSize bounds how many components one purge transaction removes.
const purgeBatchSize = 100

type coordinate struct {
	repositoryID int64
	namespace    string
	name         string
	version      string
}

type pathKey struct {
	repositoryID int64
	path         string
}

// Repository implements metastore.Repository with in-memory storage. All
// entities are copied on the way in and out to prevent external
// modifications; the single mutex also serializes browse-node mutation, so
// concurrent create/delete of the same path cannot interleave.
type Repository struct {
	mu         sync.RWMutex
	versioning bool
	events     metastore.EventSink
	log        *slog.Logger
	nextID     int64

	repositories          map[int64]*metastore.ContentRepository
	repositoryIDsByConfig map[uuid.UUID]int64

	components               map[int64]*metastore.Component
	componentIDsByCoordinate map[coordinate]int64

	assets         map[int64]*metastore.Asset
	assetIDsByPath map[pathKey]int64

	blobs        map[int64]*metastore.AssetBlob
	blobIDsByRef map[metastore.BlobRef]int64

	nodes              map[int64]*metastore.BrowseNode
	nodeIDsByPath      map[pathKey]int64
	nodeIDsByAsset     map[int64]int64
	nodeIDsByComponent map[int64]int64
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

// New creates a new in-memory repository.
func New(opts ...Option) metastore.Repository {
	r := &Repository{
		events:                   metastore.NewNoopEventSink(),
		log:                      slog.Default(),
		repositories:             make(map[int64]*metastore.ContentRepository),
		repositoryIDsByConfig:    make(map[uuid.UUID]int64),
		components:               make(map[int64]*metastore.Component),
		componentIDsByCoordinate: make(map[coordinate]int64),
		assets:                   make(map[int64]*metastore.Asset),
		assetIDsByPath:           make(map[pathKey]int64),
		blobs:                    make(map[int64]*metastore.AssetBlob),
		blobIDsByRef:             make(map[metastore.BlobRef]int64),
		nodes:                    make(map[int64]*metastore.BrowseNode),
		nodeIDsByPath:            make(map[pathKey]int64),
		nodeIDsByAsset:           make(map[int64]int64),
		nodeIDsByComponent:       make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) allocateID() int64 {
	r.nextID++
	return r.nextID
}

// bumpOwnerVersionLocked increments a component's entity version from the
// currently stored row. Nil stays nil unless versioning is enabled; the
// first structural change moves it to 1.
func (r *Repository) bumpOwnerVersionLocked(componentID int64) {
	if !r.versioning {
		return
	}
	component, exists := r.components[componentID]
	if !exists {
		return
	}
	next := 1
	if component.EntityVersion != nil {
		next = *component.EntityVersion + 1
	}
	component.EntityVersion = &next
}

func cloneAttributes(attributes map[string]any) map[string]any {
	if attributes == nil {
		return nil
	}
	clone := make(map[string]any, len(attributes))
	for k, v := range attributes {
		clone[k] = v
	}
	return clone
}

func cloneChecksums(checksums map[string]string) map[string]string {
	if checksums == nil {
		return nil
	}
	clone := make(map[string]string, len(checksums))
	for k, v := range checksums {
		clone[k] = v
	}
	return clone
}

func attributesEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// Content repository operations

func (r *Repository) CreateContentRepository(ctx context.Context, repo *metastore.ContentRepository) error {
	if repo.ConfigRepositoryID == uuid.Nil {
		return fmt.Errorf("config repository id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.repositoryIDsByConfig[repo.ConfigRepositoryID]; exists {
		return fmt.Errorf("%w: content repository %s", metastore.ErrDuplicateKey, repo.ConfigRepositoryID)
	}

	now := time.Now().UTC()
	id := r.allocateID()
	repo.RepositoryID = &id
	repo.Created = now
	repo.LastUpdated = now

	stored := *repo
	stored.Attributes = cloneAttributes(repo.Attributes)
	r.repositories[id] = &stored
	r.repositoryIDsByConfig[repo.ConfigRepositoryID] = id

	return nil
}

func (r *Repository) GetContentRepository(ctx context.Context, configRepositoryID uuid.UUID) (*metastore.ContentRepository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.repositoryIDsByConfig[configRepositoryID]
	if !exists {
		return nil, metastore.ErrContentRepositoryNotFound
	}
	return cloneContentRepository(r.repositories[id]), nil
}

func (r *Repository) UpdateContentRepositoryAttributes(ctx context.Context, repo *metastore.ContentRepository) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveContentRepositoryLocked(repo)
	if err != nil {
		return err
	}
	if attributesEqual(stored.Attributes, repo.Attributes) {
		return nil
	}
	stored.Attributes = cloneAttributes(repo.Attributes)
	stored.LastUpdated = time.Now().UTC()
	return nil
}

func (r *Repository) DeleteContentRepository(ctx context.Context, repo *metastore.ContentRepository) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.resolveContentRepositoryLocked(repo)
	if err != nil {
		if err == metastore.ErrContentRepositoryNotFound {
			return false, nil
		}
		return false, err
	}
	delete(r.repositories, *stored.RepositoryID)
	delete(r.repositoryIDsByConfig, stored.ConfigRepositoryID)
	return true, nil
}

func (r *Repository) BrowseContentRepositories(ctx context.Context) ([]*metastore.ContentRepository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*metastore.ContentRepository, 0, len(r.repositories))
	for _, repo := range r.repositories {
		result = append(result, cloneContentRepository(repo))
	}
	sort.Slice(result, func(i, j int) bool {
		return *result[i].RepositoryID < *result[j].RepositoryID
	})
	return result, nil
}

func (r *Repository) resolveContentRepositoryLocked(repo *metastore.ContentRepository) (*metastore.ContentRepository, error) {
	if repo.RepositoryID != nil {
		stored, exists := r.repositories[*repo.RepositoryID]
		if !exists {
			return nil, metastore.ErrContentRepositoryNotFound
		}
		return stored, nil
	}
	if repo.ConfigRepositoryID == uuid.Nil {
		return nil, metastore.ErrDetachedEntity
	}
	id, exists := r.repositoryIDsByConfig[repo.ConfigRepositoryID]
	if !exists {
		return nil, metastore.ErrContentRepositoryNotFound
	}
	return r.repositories[id], nil
}

func cloneContentRepository(repo *metastore.ContentRepository) *metastore.ContentRepository {
	clone := *repo
	if repo.RepositoryID != nil {
		id := *repo.RepositoryID
		clone.RepositoryID = &id
	}
	clone.Attributes = cloneAttributes(repo.Attributes)
	return &clone
}
