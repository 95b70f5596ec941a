package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-mystrom/internal/bridges/mystrom"
	"github.com/nerrad567/gray-logic-mystrom/internal/device"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/logging"
)

// maxParallelSetups bounds concurrent first refreshes at startup.
const maxParallelSetups = 8

// setupDevices sets up every device concurrently. Devices that cannot be
// reached are retried every retryInterval in the background until they come
// up or ctx is cancelled; retries tracks those goroutines. It returns the
// number set up now.
func setupDevices(ctx context.Context, m *mystrom.Manager, devices []config.DeviceConfig, retryInterval time.Duration, retries *sync.WaitGroup, log *logging.Logger) int {
	ready := make([]bool, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSetups)
	for i, d := range devices {
		g.Go(func() error {
			ready[i] = setupOne(gctx, m, d, log)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // setupOne reports through its result

	count := 0
	for i, ok := range ready {
		if ok {
			count++
			continue
		}
		retries.Add(1)
		go func(d config.DeviceConfig) {
			defer retries.Done()
			retrySetup(ctx, m, d, retryInterval, log)
		}(devices[i])
	}

	log.Info("devices set up", "ready", count, "total", len(devices))
	return count
}

// setupOne sets up d and reports whether it needs no retry. Already
// configured and invalid entries are not retried.
func setupOne(ctx context.Context, m *mystrom.Manager, d config.DeviceConfig, log *logging.Logger) bool {
	dlog := log.WithDevice(d.Host)

	_, err := m.Setup(ctx, entryConfig(d))
	switch {
	case err == nil:
		return true
	case errors.Is(err, mystrom.ErrCannotConnect):
		dlog.Warn("device not ready, will retry", "error", err)
		return false
	case errors.Is(err, mystrom.ErrAlreadyConfigured):
		dlog.Debug("device already set up")
		return true
	case errors.Is(err, mystrom.ErrManagerClosed):
		return true
	default:
		dlog.Error("device setup failed", "error", err)
		return true
	}
}

func retrySetup(ctx context.Context, m *mystrom.Manager, d config.DeviceConfig, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if setupOne(ctx, m, d, log) {
				return
			}
		}
	}
}

// knownDevices returns the configured devices followed by entries persisted
// in the registry, such as devices added through the API. Stored entries
// matching a configured host or unique id are left to the config.
func knownDevices(configured []config.DeviceConfig, stored []device.Entry) []config.DeviceConfig {
	hosts := make(map[string]bool, len(configured))
	uids := make(map[string]bool, len(configured))
	for _, d := range configured {
		hosts[d.Host] = true
		if d.UniqueID != "" {
			uids[d.UniqueID] = true
		}
	}

	out := append([]config.DeviceConfig(nil), configured...)
	for _, e := range stored {
		if hosts[e.Host] || uids[e.UniqueID] {
			continue
		}
		out = append(out, config.DeviceConfig{
			Host:       e.Host,
			Name:       e.Name,
			MAC:        e.MAC,
			DeviceType: e.DeviceType,
			UniqueID:   e.UniqueID,
		})
	}
	return out
}

func entryConfig(d config.DeviceConfig) mystrom.EntryConfig {
	return mystrom.EntryConfig{
		Host:       d.Host,
		Name:       d.Name,
		MAC:        d.MAC,
		DeviceType: mystrom.DeviceType(d.DeviceType),
		UniqueID:   d.UniqueID,
	}
}
