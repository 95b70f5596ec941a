package mystrom

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultScanInterval is the steady-state poll cadence.
	DefaultScanInterval = 30 * time.Second

	// notifyQueueSize bounds pending notifications. When full the oldest
	// snapshot is dropped; subscribers only care about the latest.
	notifyQueueSize = 8

	refreshKey = "report"
)

// ReportFetcher fetches one status report. *Client satisfies it.
type ReportFetcher interface {
	GetReport(ctx context.Context) (*Status, error)
}

// Snapshot is what subscribers receive after every completed poll.
//
// Status is the last successfully fetched status and survives failed
// polls. Err is the error of the most recent poll, nil after a success.
type Snapshot struct {
	Status      *Status   `json:"status,omitempty"`
	Err         error     `json:"-"`
	LastUpdate  time.Time `json:"last_update"`
	LastSuccess time.Time `json:"last_success"`
}

// Available reports whether the most recent poll succeeded.
func (s Snapshot) Available() bool {
	return s.Status != nil && s.Err == nil
}

// Stale reports whether a status is present but the last poll failed.
func (s Snapshot) Stale() bool {
	return s.Status != nil && s.Err != nil
}

// Subscriber receives snapshots. Implementations must not assume they run
// on the polling goroutine.
type Subscriber interface {
	OnStatus(Snapshot)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Snapshot)

// OnStatus calls f(s).
func (f SubscriberFunc) OnStatus(s Snapshot) { f(s) }

type subscriberEntry struct {
	id  uint64
	sub Subscriber
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	// Name identifies the device in logs.
	Name string

	// Interval is the poll cadence. Default: 30s.
	Interval time.Duration

	Logger Logger
}

// Coordinator owns the canonical status of one device. It polls on a fixed
// interval, coalesces concurrent refreshes into one fetch, and fans the
// result out to subscribers off the polling path.
//
// Thread Safety: All methods are safe for concurrent use.
type Coordinator struct {
	fetcher  ReportFetcher
	name     string
	interval time.Duration
	logger   Logger

	group   singleflight.Group
	fetches atomic.Uint64

	mu          sync.RWMutex
	status      *Status
	lastErr     error
	lastUpdate  time.Time
	lastSuccess time.Time

	subMu     sync.Mutex
	subs      []subscriberEntry
	nextSubID uint64

	notifyCh chan Snapshot
	resetCh  chan struct{}

	// ctx bounds every fetch; cancelled by Stop.
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCoordinator creates a coordinator and starts its notification
// dispatcher. Polling begins with Start; call Stop to release resources.
func NewCoordinator(fetcher ReportFetcher, opts CoordinatorOptions) *Coordinator {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		fetcher:  fetcher,
		name:     opts.Name,
		interval: interval,
		logger:   loggerOrNoop(opts.Logger),
		notifyCh: make(chan Snapshot, notifyQueueSize),
		resetCh:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.dispatchLoop()

	return c
}

// Name returns the coordinator's device name.
func (c *Coordinator) Name() string {
	return c.name
}

// Interval returns the poll cadence.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Refresh fetches a report now. If a fetch is already in flight the call
// attaches to it instead of issuing another request; all attached callers
// get the same snapshot and error.
//
// A poll failure is returned and also recorded in the snapshot; the
// previous status is kept. ctx only bounds how long this caller waits.
func (c *Coordinator) Refresh(ctx context.Context) (Snapshot, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.poll(), nil
	})

	select {
	case res := <-ch:
		snap, _ := res.Val.(Snapshot) //nolint:errcheck // poll always returns a Snapshot
		return snap, snap.Err
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// RequestRefresh is an on-demand refresh, used after commands. When it
// completes the periodic timer restarts so the next tick is a full
// interval later.
func (c *Coordinator) RequestRefresh(ctx context.Context) (Snapshot, error) {
	snap, err := c.Refresh(ctx)
	select {
	case c.resetCh <- struct{}{}:
	default:
	}
	return snap, err
}

// FirstRefresh performs the setup-time refresh. Any failure is returned
// wrapped in ErrCannotConnect so setup can be aborted.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	if _, err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCannotConnect, c.name, err)
	}
	return nil
}

// Start begins periodic polling. It does not poll immediately; call
// FirstRefresh first. Subsequent calls are no-ops.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.pollLoop(ctx)
	})
}

// Stop halts polling and notification delivery, cancelling any in-flight
// fetch. Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.wg.Wait()
	})
}

// CurrentStatus returns the last successfully fetched status, or nil.
func (c *Coordinator) CurrentStatus() *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// CurrentError returns the error of the most recent poll, or nil.
func (c *Coordinator) CurrentError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Snapshot returns the current state without fetching.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Fetches returns how many report requests this coordinator has issued.
func (c *Coordinator) Fetches() uint64 {
	return c.fetches.Load()
}

// Subscribe registers s for snapshots and returns a function that removes it.
func (c *Coordinator) Subscribe(s Subscriber) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs = append(c.subs, subscriberEntry{id: id, sub: s})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, e := range c.subs {
				if e.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		Status:      c.status,
		Err:         c.lastErr,
		LastUpdate:  c.lastUpdate,
		LastSuccess: c.lastSuccess,
	}
}

// poll runs exactly one fetch. It is only ever entered through the
// singleflight group, so polls for one device never overlap.
func (c *Coordinator) poll() Snapshot {
	c.fetches.Add(1)
	status, err := c.fetcher.GetReport(c.ctx)
	now := time.Now()

	c.mu.Lock()
	c.lastUpdate = now
	if err != nil {
		c.lastErr = err
	} else {
		c.status = status
		c.lastErr = nil
		c.lastSuccess = now
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("device poll failed", "device", c.name, "error", err, "stale", snap.Stale())
	} else {
		c.logger.Debug("device polled", "device", c.name, "on", status.IsOn())
	}

	c.enqueue(snap)
	return snap
}

// enqueue hands snap to the dispatcher without blocking, dropping the
// oldest pending snapshot when the queue is full.
func (c *Coordinator) enqueue(snap Snapshot) {
	for {
		select {
		case c.notifyCh <- snap:
			return
		default:
		}
		select {
		case <-c.notifyCh:
		default:
		}
	}
}

func (c *Coordinator) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case snap := <-c.notifyCh:
			c.deliver(snap)
		}
	}
}

func (c *Coordinator) deliver(snap Snapshot) {
	c.subMu.Lock()
	subs := make([]Subscriber, len(c.subs))
	for i, e := range c.subs {
		subs[i] = e.sub
	}
	c.subMu.Unlock()

	for _, s := range subs {
		c.safeDeliver(s, snap)
	}
}

func (c *Coordinator) safeDeliver(s Subscriber, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panic recovered", "device", c.name, "panic", r)
		}
	}()
	s.OnStatus(snap)
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-c.resetCh:
			timer.Reset(c.interval)
		case <-timer.C:
			c.Refresh(c.ctx) //nolint:errcheck // Failure is recorded in the snapshot
			timer.Reset(c.interval)
		}
	}
}
