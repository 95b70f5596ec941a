package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry persists config entries and hands out stable entity IDs.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by every write.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	// writeMu serialises SaveEntry and RegisterEntity so entity ID
	// allocation cannot race between concurrent device setups.
	writeMu sync.Mutex

	cacheMu  sync.RWMutex
	entries  map[string]Entry  // by entry ID
	entities map[string]Entity // by entity ID
	byUnique map[string]string // entity unique ID -> entity ID

	logger Logger
}

// NewRegistry creates a new registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		entries:  make(map[string]Entry),
		entities: make(map[string]Entity),
		byUnique: make(map[string]string),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all entries and entities from the repository.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	entries, err := r.repo.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}
	entities, err := r.repo.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		r.entries[e.ID] = e
	}
	r.entities = make(map[string]Entity, len(entities))
	r.byUnique = make(map[string]string, len(entities))
	for _, e := range entities {
		r.entities[e.EntityID] = e
		r.byUnique[e.UniqueID] = e.EntityID
	}

	r.logger.Info("registry cache refreshed", "entries", len(entries), "entities", len(entities))
	return nil
}

// SaveEntry creates or updates the entry for e.UniqueID and returns its ID.
// An existing entry keeps its ID; a new one gets a fresh UUID.
//
// Returns ErrInvalidEntry when validation fails and ErrHostInUse when the
// host is already owned by another unique ID.
func (r *Registry) SaveEntry(ctx context.Context, e Entry) (string, error) {
	if err := ValidateEntry(&e); err != nil {
		return "", err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	existing, err := r.repo.GetEntryByUniqueID(ctx, e.UniqueID)
	switch {
	case err == nil:
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
		if err := r.repo.UpdateEntry(ctx, &e); err != nil {
			return "", err
		}
		r.logger.Info("entry updated", "id", e.ID, "unique_id", e.UniqueID, "host", e.Host)
	case errors.Is(err, ErrEntryNotFound):
		e.ID = GenerateID()
		if err := r.repo.CreateEntry(ctx, &e); err != nil {
			return "", err
		}
		r.logger.Info("entry created", "id", e.ID, "unique_id", e.UniqueID, "host", e.Host)
	default:
		return "", err
	}

	r.cacheMu.Lock()
	r.entries[e.ID] = e
	r.cacheMu.Unlock()
	return e.ID, nil
}

// RegisterEntity returns the entity ID registered for ent.UniqueID,
// allocating "<platform>.<object_id>" on first registration. The object
// ID is derived from ent.Name (or the unique ID when the name is empty)
// and suffixed "_2", "_3", ... until it is free.
func (r *Registry) RegisterEntity(ctx context.Context, ent Entity) (string, error) {
	ent.EntityID = ""
	if err := ValidateEntity(&ent); err != nil {
		return "", err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.cacheMu.RLock()
	id, ok := r.byUnique[ent.UniqueID]
	r.cacheMu.RUnlock()
	if ok {
		return id, nil
	}

	existing, err := r.repo.GetEntityByUniqueID(ctx, ent.UniqueID)
	if err == nil {
		r.cacheEntity(*existing)
		return existing.EntityID, nil
	}
	if !errors.Is(err, ErrEntityNotFound) {
		return "", err
	}

	id, err = r.allocateEntityID(ctx, ent)
	if err != nil {
		return "", err
	}
	ent.EntityID = id
	if err := r.repo.CreateEntity(ctx, &ent); err != nil {
		return "", err
	}
	r.cacheEntity(ent)

	r.logger.Debug("entity registered", "entity_id", id, "unique_id", ent.UniqueID)
	return id, nil
}

func (r *Registry) allocateEntityID(ctx context.Context, ent Entity) (string, error) {
	objectID := GenerateObjectID(ent.Name)
	if objectID == "" {
		objectID = GenerateObjectID(ent.UniqueID)
	}
	if objectID == "" {
		return "", fmt.Errorf("%w: no usable name for %s", ErrInvalidEntity, ent.UniqueID)
	}

	candidate := ent.Platform + "." + objectID
	id := candidate
	for n := 2; ; n++ {
		taken, err := r.entityIDTaken(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
		id = candidate + "_" + strconv.Itoa(n)
	}
}

func (r *Registry) entityIDTaken(ctx context.Context, id string) (bool, error) {
	r.cacheMu.RLock()
	_, ok := r.entities[id]
	r.cacheMu.RUnlock()
	if ok {
		return true, nil
	}
	return r.repo.EntityIDExists(ctx, id)
}

func (r *Registry) cacheEntity(e Entity) {
	r.cacheMu.Lock()
	r.entities[e.EntityID] = e
	r.byUnique[e.UniqueID] = e.EntityID
	r.cacheMu.Unlock()
}

// ResolveEntry returns the entry ID owning entityID.
// Returns ErrEntityNotFound for an unregistered entity ID.
func (r *Registry) ResolveEntry(_ context.Context, entityID string) (string, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	ent, ok := r.entities[entityID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return ent.EntryID, nil
}

// GetEntry retrieves an entry by ID.
// Returns ErrEntryNotFound if the entry does not exist.
func (r *Registry) GetEntry(ctx context.Context, id string) (*Entry, error) {
	r.cacheMu.RLock()
	cached, ok := r.entries[id]
	r.cacheMu.RUnlock()
	if ok {
		return &cached, nil
	}

	e, err := r.repo.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cacheMu.Lock()
	r.entries[id] = *e
	r.cacheMu.Unlock()
	return e, nil
}

// ListEntries returns all cached entries ordered by name, then ID.
func (r *Registry) ListEntries() []Entry {
	r.cacheMu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.cacheMu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// ListEntities returns registered entities ordered by entity ID. When
// entryID is non-empty only that entry's entities are returned.
func (r *Registry) ListEntities(entryID string) []Entity {
	r.cacheMu.RLock()
	entities := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		if entryID == "" || e.EntryID == entryID {
			entities = append(entities, e)
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(entities, func(i, j int) bool { return entities[i].EntityID < entities[j].EntityID })
	return entities
}

// DeleteEntry removes an entry and every entity registered under it.
func (r *Registry) DeleteEntry(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.DeleteEntry(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.entries, id)
	removed := 0
	for entityID, e := range r.entities {
		if e.EntryID == id {
			delete(r.entities, entityID)
			delete(r.byUnique, e.UniqueID)
			removed++
		}
	}
	r.cacheMu.Unlock()

	r.logger.Info("entry deleted", "id", id, "entities", removed)
	return nil
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		Entries:    len(r.entries),
		Entities:   len(r.entities),
		ByPlatform: make(map[string]int),
	}
	for _, e := range r.entities {
		stats.ByPlatform[e.Platform]++
	}
	return stats
}
