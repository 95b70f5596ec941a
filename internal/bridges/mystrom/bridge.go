package mystrom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/mqtt"
)

const stateQoS = 1

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a recording fake.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	MQTTClient MQTTClient
	Manager    *Manager
	Commands   *Commands

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	Logger Logger
}

// Bridge connects the device manager to Core over MQTT. It publishes
// retained entity states, executes commands and acknowledges them, and
// reports bridge health.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	manager  *Manager
	commands *Commands
	health   *HealthReporter
	topics   mqtt.Topics

	// commandTimeout bounds one command including its follow-up refresh.
	commandTimeout time.Duration

	// Shutdown coordination. inflightMu orders inflight.Add against Stop.
	stopOnce   sync.Once
	ctx        context.Context
	ctxCancel  context.CancelFunc
	inflightMu sync.Mutex
	inflight   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	commands := opts.Commands
	if commands == nil {
		commands = NewCommands(opts.Manager, opts.Manager, opts.Logger)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:      opts.MQTTClient,
		manager:   opts.Manager,
		commands:  commands,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,

		// Command request plus follow-up /report, each bounded by the
		// device timeout.
		commandTimeout: 2 * opts.Manager.Timeout(),
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Devices:   opts.Manager,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to commands, publishes every entity's current state
// and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.manager.AddStateListener(StateListenerFunc(b.publishState))

	topic := b.topics.BridgeCommands(Domain)
	if err := b.mqtt.Subscribe(topic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", topic)

	b.PublishAll()
	b.health.Start(ctx)

	managed, _ := b.manager.DeviceCounts()
	b.logInfo("bridge started", "devices", managed)
	return nil
}

// Stop aborts in-flight commands, waits for them to finish and stops
// health reporting.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.inflightMu.Lock()
		b.ctxCancel()
		b.inflightMu.Unlock()
		b.inflight.Wait()

		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// PublishAll publishes the current state of every entity.
func (b *Bridge) PublishAll() {
	for _, ent := range b.manager.Entities() {
		b.publishState(ent.State())
	}
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.health.SetLogger(logger)
}

func (b *Bridge) publishState(state EntityState) {
	payload, err := json.Marshal(NewStateMessage(state))
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.BridgeState(Domain, state.EntityID), payload, stateQoS, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// handleCommand validates one command message and executes it in the
// background, so a slow device never blocks inbound MQTT delivery. Every
// parsed command is acknowledged; unparseable payloads are dropped.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return nil
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = mqtt.EntityFromTopic(topic)
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"command", cmd.Command)

	command, err := ParseCommand(cmd.Command)
	if err != nil {
		b.publishAck(NewAckError(cmd, ErrCodeInvalidCommand, err.Error()))
		return nil
	}

	var state bool
	if command == CommandSetRelayState {
		v, ok := toBool(cmd.Parameters["state"])
		if !ok {
			b.publishAck(NewAckError(cmd, ErrCodeInvalidParameters,
				"'state' parameter must be a boolean"))
			return nil
		}
		state = v
	}

	if !b.goCommand(func() { b.executeCommand(cmd, command, state) }) {
		b.logInfo("bridge stopping, command dropped", "command_id", cmd.ID)
	}
	return nil
}

// goCommand runs fn in a tracked goroutine unless the bridge is stopping.
func (b *Bridge) goCommand(fn func()) bool {
	b.inflightMu.Lock()
	defer b.inflightMu.Unlock()
	if b.ctx.Err() != nil {
		return false
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		fn()
	}()
	return true
}

func (b *Bridge) executeCommand(cmd CommandMessage, command Command, state bool) {
	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	if err := b.commands.Execute(ctx, cmd.DeviceID, command, state); err != nil {
		b.publishAck(NewAckError(cmd, AckErrorCode(err), err.Error()))
		return
	}
	b.publishAck(NewAckMessage(cmd))
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(b.topics.BridgeAck(Domain, ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// AckErrorCode maps a command error to its ack error code.
func AckErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrLookup):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrConnection):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrProtocol):
		return ErrCodeProtocolError
	case errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
