// Package indexregistry implements the IndexRegistry: the per-instance
// map of index-kind to ordered shard list, plus the "fillable" subset
// still accepting inserts. Grounded on
// original_source/src/indexing/index_registry.py for the
// registry/fillable split and the Add/Remove/Full event names, and on
// the teacher's pattern of scanning a directory tree to recover state
// at boot (internal/cluster/manager.go's LoadExisting).
package indexregistry

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/index"
)

// Arbiter is the subset of memory.Arbiter the registry needs, kept
// narrow to avoid an import cycle and to make boot-recovery testable
// with a fake.
type Arbiter interface {
	IsIndexFull(size, maxIndexSize float64) bool
}

// ShardFactory constructs a new, empty, unloaded shard of the given
// kind at path. Supplied by the wiring layer so the registry does not
// need to know about Embedder construction.
type ShardFactory func(kind index.Kind, path string) index.Index

type instanceKinds map[index.Kind][]index.Index

// Registry is the IndexRegistry.
type Registry struct {
	mu sync.Mutex

	root         string
	maxIndexSize float64
	arbiter      Arbiter
	tokens       *ctxtoken.Registry
	newShard     ShardFactory
	bus          *events.IndexBus

	registry instanceKinds2
	fillable instanceKinds2
}

type instanceKinds2 map[int64]instanceKinds

// New constructs an empty Registry and subscribes it to the given
// InstanceBus so instance Add/Remove events drive load_existing and
// cascading shard removal.
func New(root string, maxIndexSize float64, arbiter Arbiter, tokens *ctxtoken.Registry, newShard ShardFactory, instanceBus *events.InstanceBus) *Registry {
	r := &Registry{
		root:         root,
		maxIndexSize: maxIndexSize,
		arbiter:      arbiter,
		tokens:       tokens,
		newShard:     newShard,
		bus:          events.NewIndexBus(),
		registry:     make(instanceKinds2),
		fillable:     make(instanceKinds2),
	}
	if instanceBus != nil {
		instanceBus.Subscribe(r.onInstanceEvent)
	}
	return r
}

// Subscribe registers an observer for Add/Remove/Full/Clustered events.
func (r *Registry) Subscribe(h events.IndexHandler) {
	r.bus.Subscribe(h)
}

// Bus exposes the underlying IndexBus for other components (the
// eventbus Bridge in particular) to subscribe to directly.
func (r *Registry) Bus() *events.IndexBus { return r.bus }

func (r *Registry) onInstanceEvent(e events.InstanceEvent) {
	switch e.Kind {
	case events.InstanceAdded:
		if err := r.LoadExisting(e.InstanceID); err != nil {
			log.Printf("indexregistry: load_existing(%d): %v", e.InstanceID, err)
		}
	case events.InstanceRemoved:
		r.dropInstance(e.InstanceID)
	}
}

// Create allocates a new shard with path <root>/<instance>/<kind>/<epoch-ms>.<ext>,
// appends it to both tables, and emits Add(instance).
func (r *Registry) Create(instanceID int64, kind index.Kind, epochMs int64) index.Index {
	r.mu.Lock()

	dir := filepath.Join(r.root, strconv.FormatInt(instanceID, 10), string(kind))
	path := filepath.Join(dir, fmt.Sprintf("%d.%s", epochMs, kind.Ext()))
	shard := r.newShard(kind, path)

	if r.registry[instanceID] == nil {
		r.registry[instanceID] = make(instanceKinds)
		r.fillable[instanceID] = make(instanceKinds)
	}
	r.registry[instanceID][kind] = append(r.registry[instanceID][kind], shard)
	r.fillable[instanceID][kind] = append(r.fillable[instanceID][kind], shard)

	r.mu.Unlock()

	r.bus.Publish(events.IndexEvent{Kind: events.IndexAdded, InstanceID: instanceID, IndexKind: string(kind)})
	return shard
}

// Get returns the full ordered shard list for (instance, kind).
func (r *Registry) Get(instanceID int64, kind index.Kind) ([]index.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds, ok := r.registry[instanceID]
	if !ok {
		return nil, ErrUnknownInstance
	}
	return append([]index.Index(nil), kinds[kind]...), nil
}

// GetFillable returns the shards for (instance, kind) still accepting
// inserts.
func (r *Registry) GetFillable(instanceID int64, kind index.Kind) ([]index.Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds, ok := r.fillable[instanceID]
	if !ok {
		return nil, ErrUnknownInstance
	}
	return append([]index.Index(nil), kinds[kind]...), nil
}

// Kinds returns the set of kinds known for an instance.
func (r *Registry) Kinds(instanceID int64) ([]index.Kind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds, ok := r.registry[instanceID]
	if !ok {
		return nil, ErrUnknownInstance
	}
	out := make([]index.Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out, nil
}

// Contains reports whether the instance is still registered, used by
// IndexWriter and ClusteringWorker to detect a mid-cycle removal.
func (r *Registry) Contains(instanceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.registry[instanceID]
	return ok
}

// MarkFull removes shard from fillable only, locates its position in
// registry, and emits Full(instance, kind, position).
func (r *Registry) MarkFull(instanceID int64, kind index.Kind, path string) error {
	r.mu.Lock()

	regKinds, ok := r.registry[instanceID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownInstance
	}
	position := -1
	for i, shard := range regKinds[kind] {
		if shard.Path() == path {
			position = i
			break
		}
	}
	if position == -1 {
		r.mu.Unlock()
		return ErrUnknownShard
	}

	fillKinds := r.fillable[instanceID]
	filtered := fillKinds[kind][:0]
	for _, shard := range fillKinds[kind] {
		if shard.Path() != path {
			filtered = append(filtered, shard)
		}
	}
	fillKinds[kind] = filtered

	r.mu.Unlock()

	r.bus.Publish(events.IndexEvent{Kind: events.IndexFull, InstanceID: instanceID, IndexKind: string(kind), Position: position})
	return nil
}

// MarkClustered announces that shard has been rebuilt into a
// clustered layout, for external observers (ClusteringWorker calls
// this after a successful cluster+save). It does not change either
// table: a shard's fillable status is decided at Full time, before
// clustering ever runs.
func (r *Registry) MarkClustered(instanceID int64, kind index.Kind, path string) error {
	r.mu.Lock()
	regKinds, ok := r.registry[instanceID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownInstance
	}
	position := -1
	for i, shard := range regKinds[kind] {
		if shard.Path() == path {
			position = i
			break
		}
	}
	r.mu.Unlock()
	if position == -1 {
		return ErrUnknownShard
	}

	r.bus.Publish(events.IndexEvent{Kind: events.IndexClustered, InstanceID: instanceID, IndexKind: string(kind), Position: position})
	return nil
}

// LoadExisting scans the instance's directory tree, instantiates a
// shard per recognized file, opens each once to populate size/ids,
// and places it in fillable unless the arbiter reports it already
// full, in which case it goes to registry only and Full is emitted.
func (r *Registry) LoadExisting(instanceID int64) error {
	dir := filepath.Join(r.root, strconv.FormatInt(instanceID, 10))

	r.mu.Lock()
	if r.registry[instanceID] == nil {
		r.registry[instanceID] = make(instanceKinds)
		r.fillable[instanceID] = make(instanceKinds)
	}
	r.mu.Unlock()

	for _, kind := range []index.Kind{index.KindVector, index.KindLexical} {
		kindDir := filepath.Join(dir, string(kind))
		entries, err := os.ReadDir(kindDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("indexregistry: scan %s: %w", kindDir, err)
		}

		var names []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.Contains(name, ".tmp") || strings.HasSuffix(name, ".metadata") {
				continue
			}
			if filepath.Ext(name) != "."+kind.Ext() {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(kindDir, name)
			shard := r.newShard(kind, path)

			tok, err := r.tokens.Generate()
			if err != nil {
				return err
			}
			if err := shard.Load(context.Background(), tok); err != nil {
				shard.Release(tok)
				log.Printf("indexregistry: boot recovery: failed to open %s: %v", path, err)
				continue
			}
			size := shard.Size()
			shard.Release(tok)

			r.mu.Lock()
			r.registry[instanceID][kind] = append(r.registry[instanceID][kind], shard)
			full := r.arbiter.IsIndexFull(size, r.maxIndexSize)
			if !full {
				r.fillable[instanceID][kind] = append(r.fillable[instanceID][kind], shard)
			}
			position := len(r.registry[instanceID][kind]) - 1
			r.mu.Unlock()

			if full {
				r.bus.Publish(events.IndexEvent{Kind: events.IndexFull, InstanceID: instanceID, IndexKind: string(kind), Position: position})
			}
		}
	}

	r.bus.Publish(events.IndexEvent{Kind: events.IndexAdded, InstanceID: instanceID})
	return nil
}

func (r *Registry) dropInstance(instanceID int64) {
	r.mu.Lock()
	delete(r.registry, instanceID)
	delete(r.fillable, instanceID)
	r.mu.Unlock()

	r.bus.Publish(events.IndexEvent{Kind: events.IndexRemoved, InstanceID: instanceID})
}
