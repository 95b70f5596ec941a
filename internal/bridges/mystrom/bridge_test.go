package mystrom

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/mqtt"
)

// mockMQTT records publishes and subscriptions.
type mockMQTT struct {
	mu        sync.Mutex
	connected bool
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// deliver simulates a broker message on topic.
func (m *mockMQTT) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers["graylogic/command/mystrom/+"]
	m.mu.Unlock()
	require.True(t, ok, "bridge did not subscribe to commands")
	require.NoError(t, handler(topic, payload))
}

func (m *mockMQTT) messagesOn(prefix string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, p := range m.published {
		if strings.HasPrefix(p.topic, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// ack returns the ack for commandID if one was published.
func (m *mockMQTT) ack(commandID string) (AckMessage, bool) {
	for _, p := range m.messagesOn("graylogic/ack/mystrom/") {
		var ack AckMessage
		if json.Unmarshal(p.payload, &ack) == nil && ack.CommandID == commandID {
			return ack, true
		}
	}
	return AckMessage{}, false
}

// waitAck waits for the ack of commandID. Commands run in the background.
func (m *mockMQTT) waitAck(t *testing.T, commandID string) AckMessage {
	t.Helper()
	var ack AckMessage
	require.Eventually(t, func() bool {
		var ok bool
		ack, ok = m.ack(commandID)
		return ok
	}, 3*time.Second, 5*time.Millisecond, "no ack for %s", commandID)
	return ack
}

func newBridgeFixture(t *testing.T) (*fakeDevice, *Manager, *mockMQTT, *Bridge) {
	t.Helper()
	d := newFakeDevice(t)
	m := newTestManager(t, d, nil)
	_, err := m.Setup(context.Background(), EntryConfig{Host: d.host(), Name: "Kitchen"})
	require.NoError(t, err)

	client := newMockMQTT()
	b, err := NewBridge(BridgeOptions{MQTTClient: client, Manager: m, Version: "test"})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return d, m, client, b
}

func commandPayload(t *testing.T, id, command string, params map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":         id,
		"timestamp":  "2026-03-01T09:00:00Z",
		"command":    command,
		"parameters": params,
		"source":     "api",
	})
	require.NoError(t, err)
	return data
}

func TestNewBridge_RequiresDependencies(t *testing.T) {
	_, err := NewBridge(BridgeOptions{Manager: NewManager(ManagerOptions{})})
	assert.Error(t, err)

	_, err = NewBridge(BridgeOptions{MQTTClient: newMockMQTT()})
	assert.Error(t, err)
}

func TestBridge_StartPublishesRetainedStates(t *testing.T) {
	_, _, client, _ := newBridgeFixture(t)

	states := client.messagesOn("graylogic/state/mystrom/switch.kitchen")
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.True(t, last.retained)
	assert.Equal(t, byte(1), last.qos)

	var msg StateMessage
	require.NoError(t, json.Unmarshal(last.payload, &msg))
	assert.Equal(t, "switch.kitchen", msg.DeviceID)
	assert.Equal(t, "mystrom", msg.Protocol)
	assert.Equal(t, "off", msg.State.State)

	assert.NotEmpty(t, client.messagesOn("graylogic/health/mystrom"))
}

func TestBridge_TurnOnCommand(t *testing.T) {
	d, m, client, _ := newBridgeFixture(t)

	client.deliver(t, "graylogic/command/mystrom/switch.kitchen",
		commandPayload(t, "cmd-1", "turn_on", nil))

	ack := client.waitAck(t, "cmd-1")
	assert.Equal(t, "cmd-1", ack.CommandID)
	assert.Equal(t, AckAccepted, ack.Status)
	assert.Equal(t, "switch.kitchen", ack.DeviceID)
	assert.Nil(t, ack.Error)

	assert.Equal(t, 1, d.hitCount("/on"))
	ent, err := m.Entity("switch.kitchen")
	require.NoError(t, err)
	assert.Equal(t, "on", ent.State().State)
}

func TestBridge_SetRelayStateCommand(t *testing.T) {
	d, _, client, _ := newBridgeFixture(t)

	client.deliver(t, "graylogic/command/mystrom/switch.kitchen",
		commandPayload(t, "cmd-2", "set_relay_state", map[string]any{"state": true}))

	assert.Equal(t, AckAccepted, client.waitAck(t, "cmd-2").Status)
	assert.Equal(t, 1, d.hitCount("/relay"))
}

func TestBridge_CommandFailures(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		command  string
		params   map[string]any
		breakDev bool
		wantCode string
	}{
		{
			name:     "unknown entity",
			topic:    "graylogic/command/mystrom/switch.nowhere",
			command:  "turn_on",
			wantCode: ErrCodeNotConfigured,
		},
		{
			name:     "unknown command",
			topic:    "graylogic/command/mystrom/switch.kitchen",
			command:  "dim",
			wantCode: ErrCodeInvalidCommand,
		},
		{
			name:     "missing state parameter",
			topic:    "graylogic/command/mystrom/switch.kitchen",
			command:  "set_relay_state",
			wantCode: ErrCodeInvalidParameters,
		},
		{
			name:     "device unreachable",
			topic:    "graylogic/command/mystrom/switch.kitchen",
			command:  "turn_off",
			breakDev: true,
			wantCode: ErrCodeDeviceUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _, client, _ := newBridgeFixture(t)
			if tt.breakDev {
				d.server.Close()
			}

			client.deliver(t, tt.topic, commandPayload(t, "cmd-x", tt.command, tt.params))

			ack := client.waitAck(t, "cmd-x")
			assert.Equal(t, AckFailed, ack.Status)
			require.NotNil(t, ack.Error)
			assert.Equal(t, tt.wantCode, ack.Error.Code)
		})
	}
}

func TestBridge_BlockedDeviceDoesNotDelayOtherCommands(t *testing.T) {
	slow := newFakeDevice(t)
	fast := newFakeDevice(t)
	m := newTestManager(t, slow, nil)
	_, err := m.Setup(context.Background(), EntryConfig{Host: slow.host(), Name: "Slow", UniqueID: "slow-plug"})
	require.NoError(t, err)
	_, err = m.Setup(context.Background(), EntryConfig{Host: fast.host(), Name: "Fast", UniqueID: "fast-plug"})
	require.NoError(t, err)

	client := newMockMQTT()
	b, err := NewBridge(BridgeOptions{MQTTClient: client, Manager: m})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)

	entered, release := slow.gateReport()
	t.Cleanup(release)

	start := time.Now()
	client.deliver(t, "graylogic/command/mystrom/switch.slow", commandPayload(t, "cmd-slow", "turn_on", nil))
	client.deliver(t, "graylogic/command/mystrom/switch.fast", commandPayload(t, "cmd-fast", "turn_on", nil))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "handler blocked on the device")

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("slow device refresh never started")
	}

	assert.Equal(t, AckAccepted, client.waitAck(t, "cmd-fast").Status)
	_, done := client.ack("cmd-slow")
	assert.False(t, done, "slow command acked while its device is blocked")

	release()
	assert.Equal(t, AckAccepted, client.waitAck(t, "cmd-slow").Status)
}

func TestBridge_StopWaitsForInflightCommands(t *testing.T) {
	d, _, client, b := newBridgeFixture(t)
	entered, release := d.gateReport()
	t.Cleanup(release)

	client.deliver(t, "graylogic/command/mystrom/switch.kitchen", commandPayload(t, "cmd-stop", "toggle", nil))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("command refresh never started")
	}

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after cancelling the command")
	}
	release()

	_, ok := client.ack("cmd-stop")
	assert.True(t, ok, "in-flight command acked before Stop returned")

	client.deliver(t, "graylogic/command/mystrom/switch.kitchen", commandPayload(t, "cmd-late", "toggle", nil))
	_, ok = client.ack("cmd-late")
	assert.False(t, ok, "command accepted after Stop")
}

func TestBridge_CommandTimeoutFollowsManager(t *testing.T) {
	m := NewManager(ManagerOptions{Timeout: 30 * time.Second})
	t.Cleanup(m.Close)
	b, err := NewBridge(BridgeOptions{MQTTClient: newMockMQTT(), Manager: m})
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, b.commandTimeout)
}

func TestBridge_MalformedPayloadIsDropped(t *testing.T) {
	_, _, client, _ := newBridgeFixture(t)

	client.deliver(t, "graylogic/command/mystrom/switch.kitchen", []byte("{not json"))
	assert.Empty(t, client.messagesOn("graylogic/ack/"))
}

func TestBridge_StatePublishedOnRefresh(t *testing.T) {
	d, m, client, _ := newBridgeFixture(t)
	before := len(client.messagesOn("graylogic/state/mystrom/sensor.kitchen_power"))

	d.setRelay(true, 99)
	entries := m.Entries()
	require.Len(t, entries, 1)
	_, err := entries[0].Coordinator.Refresh(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		msgs := client.messagesOn("graylogic/state/mystrom/sensor.kitchen_power")
		if len(msgs) <= before {
			return false
		}
		var msg StateMessage
		if err := json.Unmarshal(msgs[len(msgs)-1].payload, &msg); err != nil {
			return false
		}
		v, ok := msg.State.State.(float64)
		return ok && v == 99
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAckErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&LookupError{Ref: "x"}, ErrCodeNotConfigured},
		{&ConnectionError{Host: "h", Err: errors.New("refused")}, ErrCodeDeviceUnreachable},
		{&ProtocolError{Host: "h", StatusCode: 500}, ErrCodeProtocolError},
		{ErrUnknownCommand, ErrCodeInvalidCommand},
		{errors.New("other"), ErrCodeBridgeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AckErrorCode(tt.err), tt.err.Error())
	}
}

func TestCommandMessage_UnmarshalJSON(t *testing.T) {
	var cmd CommandMessage
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","command":"toggle"}`), &cmd))
	assert.True(t, cmd.Timestamp.IsZero())

	err := json.Unmarshal([]byte(`{"id":"a","timestamp":"yesterday"}`), &cmd)
	assert.Error(t, err)
}
