package mystrom

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryConfig is the user-supplied configuration of one device.
type EntryConfig struct {
	Host       string     `json:"host"`
	Name       string     `json:"name,omitempty"`
	MAC        string     `json:"mac,omitempty"`
	DeviceType DeviceType `json:"device_type,omitempty"`

	// UniqueID overrides the derived unique id (MAC, else host).
	UniqueID string `json:"unique_id,omitempty"`
}

// uniqueID returns the configured unique id, else the MAC, else the host.
func (c EntryConfig) uniqueID() string {
	switch {
	case c.UniqueID != "":
		return c.UniqueID
	case c.MAC != "":
		return strings.ToLower(c.MAC)
	default:
		return c.Host
	}
}

// Entry is one set-up device: its client, coordinator and entities.
type Entry struct {
	ID          string
	UniqueID    string
	Config      EntryConfig
	Client      *Client
	Coordinator *Coordinator
	Entities    []Entity
	Device      DeviceInfo

	unsubscribe []func()
}

// Switch returns the entry's switch entity.
func (e *Entry) Switch() *SwitchEntity {
	for _, ent := range e.Entities {
		if sw, ok := ent.(*SwitchEntity); ok {
			return sw
		}
	}
	return nil
}

// EntryRecord is the persisted form of an entry.
type EntryRecord struct {
	ID         string
	UniqueID   string
	Host       string
	Name       string
	MAC        string
	DeviceType DeviceType
}

// EntityRecord is the persisted form of an entity.
type EntityRecord struct {
	UniqueID      string
	EntryID       string
	Platform      Platform
	SuggestedName string
}

// EntryStore persists entries and assigns entity ids.
// This interface is satisfied by *device.Registry (via adapter in main.go).
// It is optional; without it ids live only for the process lifetime.
type EntryStore interface {
	// SaveEntry upserts by unique id and returns the entry's stable id.
	SaveEntry(ctx context.Context, rec EntryRecord) (string, error)

	// RegisterEntity returns the entity id for rec.UniqueID, creating a
	// collision-free one on first registration.
	RegisterEntity(ctx context.Context, rec EntityRecord) (string, error)

	// DeleteEntry removes an entry and its entities.
	DeleteEntry(ctx context.Context, id string) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// HTTPClient is shared by every device client. Default: http.DefaultClient.
	HTTPClient *http.Client

	// ScanInterval is the poll cadence for every device. Default: 30s.
	ScanInterval time.Duration

	// Timeout bounds one device call. Default: 10s.
	Timeout time.Duration

	// Store persists entries and entity ids. Optional.
	Store EntryStore

	Logger Logger
}

// Manager is the table of set-up devices. It owns every coordinator and
// entity and routes entity states to registered listeners.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	httpClient *http.Client
	interval   time.Duration
	timeout    time.Duration
	store      EntryStore
	logger     Logger

	mu        sync.RWMutex
	entries   map[string]*Entry
	byUnique  map[string]string // unique id -> entry id
	byHost    map[string]string // host -> entry id
	entities  map[string]Entity // entity id -> entity
	reserved  map[string]struct{}
	listeners []StateListener

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates an empty manager.
func NewManager(opts ManagerOptions) *Manager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	interval := opts.ScanInterval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		httpClient: httpClient,
		interval:   interval,
		timeout:    timeout,
		store:      opts.Store,
		logger:     loggerOrNoop(opts.Logger),
		entries:    make(map[string]*Entry),
		byUnique:   make(map[string]string),
		byHost:     make(map[string]string),
		entities:   make(map[string]Entity),
		reserved:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Timeout returns the per-request device timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Validate checks that a device answers at cfg.Host and fills a missing
// MAC and the device type from its report. Any failure wraps
// ErrCannotConnect.
func (m *Manager) Validate(ctx context.Context, cfg EntryConfig) (EntryConfig, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return cfg, err
	}

	status, err := NewClient(cfg.Host, m.httpClient, m.timeout).GetReport(ctx)
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrCannotConnect, cfg.Host, err)
	}
	return fillFromStatus(cfg, status), nil
}

// Setup creates the client, coordinator and entities for cfg, performs the
// first refresh and starts polling.
//
// Returns ErrCannotConnect when the first refresh fails (nothing is kept)
// and ErrAlreadyConfigured when the unique id or host is already set up.
func (m *Manager) Setup(ctx context.Context, cfg EntryConfig) (*Entry, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if m.ctx.Err() != nil {
		return nil, ErrManagerClosed
	}
	if err := m.checkDuplicate(cfg.Host, cfg.UniqueID); err != nil {
		return nil, err
	}

	client := NewClient(cfg.Host, m.httpClient, m.timeout)
	coord := NewCoordinator(client, CoordinatorOptions{
		Name:     cfg.Name,
		Interval: m.interval,
		Logger:   m.logger,
	})

	if err := coord.FirstRefresh(ctx); err != nil {
		coord.Stop()
		return nil, err
	}

	first := coord.CurrentStatus()
	cfg = fillFromStatus(cfg, first)
	uid := cfg.uniqueID()

	if err := m.reserve(cfg.Host, uid); err != nil {
		coord.Stop()
		return nil, err
	}
	defer m.release(cfg.Host, uid)

	entry := &Entry{
		UniqueID:    uid,
		Config:      cfg,
		Client:      client,
		Coordinator: coord,
		Device:      newDeviceInfo(uid, cfg.Name, cfg.DeviceType),
	}

	if entry.ID, err = m.saveEntry(ctx, entry); err != nil {
		coord.Stop()
		return nil, err
	}

	if err := m.buildEntities(ctx, entry, first); err != nil {
		coord.Stop()
		return nil, err
	}

	m.mu.Lock()
	// Close cancels m.ctx before it unloads, so an entry inserted here is
	// either seen by Close or refused.
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		coord.Stop()
		return nil, ErrManagerClosed
	}
	m.entries[entry.ID] = entry
	m.byUnique[uid] = entry.ID
	m.byHost[cfg.Host] = entry.ID
	for _, ent := range entry.Entities {
		m.entities[ent.EntityID()] = ent
	}
	m.mu.Unlock()

	for _, ent := range entry.Entities {
		entry.unsubscribe = append(entry.unsubscribe, coord.Subscribe(ent))
	}
	coord.Start(m.ctx)

	snap := coord.Snapshot()
	for _, ent := range entry.Entities {
		ent.OnStatus(snap)
	}

	m.logger.Info("device set up",
		"entry_id", entry.ID, "unique_id", uid, "host", cfg.Host,
		"name", cfg.Name, "entities", len(entry.Entities))
	return entry, nil
}

// Unload stops polling for an entry and forgets it. Persisted records are
// kept, so a later Setup reuses the same ids.
func (m *Manager) Unload(id string) error {
	m.mu.Lock()
	entry, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	delete(m.entries, id)
	delete(m.byUnique, entry.UniqueID)
	delete(m.byHost, entry.Config.Host)
	for _, ent := range entry.Entities {
		delete(m.entities, ent.EntityID())
	}
	m.mu.Unlock()

	for _, unsub := range entry.unsubscribe {
		unsub()
	}
	entry.Coordinator.Stop()

	m.logger.Info("device unloaded", "entry_id", id, "host", entry.Config.Host)
	return nil
}

// Remove unloads an entry and deletes its persisted records.
func (m *Manager) Remove(ctx context.Context, id string) error {
	if err := m.Unload(id); err != nil {
		return err
	}
	if m.store == nil {
		return nil
	}
	if err := m.store.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("deleting entry %s: %w", id, err)
	}
	return nil
}

// Get returns a set-up entry by id.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return entry, nil
}

// Entries returns all set-up entries ordered by name, then id.
func (m *Manager) Entries() []*Entry {
	m.mu.RLock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Config.Name != out[j].Config.Name {
			return out[i].Config.Name < out[j].Config.Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Entity returns a set-up entity by entity id.
func (m *Manager) Entity(entityID string) (Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.entities[entityID]
	if !ok {
		return nil, &LookupError{Ref: entityID}
	}
	return ent, nil
}

// Entities returns all set-up entities ordered by entity id.
func (m *Manager) Entities() []Entity {
	m.mu.RLock()
	out := make([]Entity, 0, len(m.entities))
	for _, ent := range m.entities {
		out = append(out, ent)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })
	return out
}

// DeviceCounts returns the number of set-up entries and how many of them
// succeeded their most recent poll.
func (m *Manager) DeviceCounts() (managed, available int) {
	for _, e := range m.Entries() {
		managed++
		if e.Coordinator.Snapshot().Available() {
			available++
		}
	}
	return managed, available
}

// ResolveEntry maps an entity id to its entry id using the in-memory table.
func (m *Manager) ResolveEntry(_ context.Context, entityID string) (string, error) {
	ent, err := m.Entity(entityID)
	if err != nil {
		return "", err
	}
	return ent.EntryID(), nil
}

// AddStateListener registers l for every entity state rendered after this
// call.
func (m *Manager) AddStateListener(l StateListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Close unloads every entry. Safe to call multiple times.
func (m *Manager) Close() {
	m.cancel()
	for _, e := range m.Entries() {
		_ = m.Unload(e.ID) //nolint:errcheck // Concurrent unload is fine
	}
}

func (m *Manager) emit(state EntityState) {
	m.mu.RLock()
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		l.OnEntityState(state)
	}
}

func (m *Manager) checkDuplicate(host, uniqueID string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.duplicateLocked(host, uniqueID)
}

func (m *Manager) duplicateLocked(host, uniqueID string) error {
	if _, ok := m.byHost[host]; ok {
		return fmt.Errorf("%w: host %s", ErrAlreadyConfigured, host)
	}
	if _, ok := m.reserved["host:"+host]; ok {
		return fmt.Errorf("%w: host %s", ErrAlreadyConfigured, host)
	}
	if uniqueID == "" {
		return nil
	}
	if _, ok := m.byUnique[uniqueID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, uniqueID)
	}
	if _, ok := m.reserved["uid:"+uniqueID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConfigured, uniqueID)
	}
	return nil
}

// reserve claims host and uniqueID while a setup completes so concurrent
// setups of the same device cannot both succeed.
func (m *Manager) reserve(host, uniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.duplicateLocked(host, uniqueID); err != nil {
		return err
	}
	m.reserved["host:"+host] = struct{}{}
	m.reserved["uid:"+uniqueID] = struct{}{}
	return nil
}

func (m *Manager) release(host, uniqueID string) {
	m.mu.Lock()
	delete(m.reserved, "host:"+host)
	delete(m.reserved, "uid:"+uniqueID)
	m.mu.Unlock()
}

func (m *Manager) saveEntry(ctx context.Context, e *Entry) (string, error) {
	if m.store == nil {
		return uuid.NewString(), nil
	}
	id, err := m.store.SaveEntry(ctx, EntryRecord{
		UniqueID:   e.UniqueID,
		Host:       e.Config.Host,
		Name:       e.Config.Name,
		MAC:        e.Config.MAC,
		DeviceType: e.Config.DeviceType,
	})
	if err != nil {
		return "", fmt.Errorf("saving entry %s: %w", e.UniqueID, err)
	}
	return id, nil
}

// buildEntities creates the switch and power sensor always, and the
// temperature and energy sensors only when the first status reports them.
func (m *Manager) buildEntities(ctx context.Context, e *Entry, first *Status) error {
	base := baseEntity{
		uniqueID: e.UniqueID,
		name:     e.Config.Name,
		entryID:  e.ID,
		host:     e.Config.Host,
		coord:    e.Coordinator,
		emit:     m.emit,
	}

	e.Entities = append(e.Entities, newSwitchEntity(base, e.Config.DeviceType))
	e.Entities = append(e.Entities, newSensorEntity(base, SensorPower))
	if _, ok := first.Temperature(); ok {
		e.Entities = append(e.Entities, newSensorEntity(base, SensorTemperature))
	}
	if _, ok := first.EnergyWh(); ok {
		e.Entities = append(e.Entities, newSensorEntity(base, SensorEnergy))
	}

	for _, ent := range e.Entities {
		id, err := m.entityID(ctx, ent)
		if err != nil {
			return err
		}
		switch v := ent.(type) {
		case *SwitchEntity:
			v.entityID = id
		case *SensorEntity:
			v.entityID = id
		}
	}
	return nil
}

func (m *Manager) entityID(ctx context.Context, ent Entity) (string, error) {
	if m.store != nil {
		id, err := m.store.RegisterEntity(ctx, EntityRecord{
			UniqueID:      ent.UniqueID(),
			EntryID:       ent.EntryID(),
			Platform:      ent.Platform(),
			SuggestedName: ent.Name(),
		})
		if err != nil {
			return "", fmt.Errorf("registering entity %s: %w", ent.UniqueID(), err)
		}
		return id, nil
	}

	slug := Slugify(ent.Name())
	if slug == "" {
		slug = Slugify(ent.UniqueID())
	}
	candidate := string(ent.Platform()) + "." + slug

	m.mu.RLock()
	defer m.mu.RUnlock()
	id := candidate
	for n := 2; ; n++ {
		if _, taken := m.entities[id]; !taken {
			return id, nil
		}
		id = candidate + "_" + strconv.Itoa(n)
	}
}

func normalizeConfig(cfg EntryConfig) (EntryConfig, error) {
	cfg.Host = strings.TrimRight(strings.TrimPrefix(strings.TrimSpace(cfg.Host), "http://"), "/")
	if cfg.Host == "" {
		return cfg, ErrInvalidHost
	}
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = cfg.Host
	}
	cfg.MAC = strings.TrimSpace(cfg.MAC)
	if cfg.DeviceType != "" {
		t, ok := ParseDeviceType(string(cfg.DeviceType))
		if !ok {
			return cfg, fmt.Errorf("%w: %q", ErrInvalidDeviceType, cfg.DeviceType)
		}
		cfg.DeviceType = t
	}
	return cfg, nil
}

func fillFromStatus(cfg EntryConfig, status *Status) EntryConfig {
	if status == nil {
		return cfg
	}
	if cfg.MAC == "" {
		if mac, ok := status.MAC(); ok {
			cfg.MAC = mac
		}
	}
	if t, ok := status.DeviceType(); ok {
		cfg.DeviceType = t
	}
	return cfg
}
