package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-mystrom/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "mystrom-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient returns a Client that never dialled a broker.
func disconnectedClient() *Client {
	return &Client{
		cfg:           testConfig(),
		statusTopic:   Topics{}.BridgeHealth("mystrom"),
		subscriptions: make(map[string]subscription),
	}
}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestConnect_EmptyStatusTopic(t *testing.T) {
	_, err := Connect(testConfig(), "")
	if !errors.Is(err, ErrConnectionFailed) || !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed wrapping ErrInvalidTopic", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := disconnectedClient().Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestDisconnectedClient_Operations(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		op      func() error
		wantErr error
	}{
		{"publish empty topic", func() error { return c.Publish("", nil, 1, false) }, ErrInvalidTopic},
		{"publish invalid qos", func() error { return c.Publish("t", nil, 3, false) }, ErrInvalidQoS},
		{"publish too large", func() error { return c.Publish("t", make([]byte, maxPayloadSize+1), 1, false) }, ErrPublishFailed},
		{"publish disconnected", func() error { return c.Publish("t", []byte("x"), 1, false) }, ErrNotConnected},
		{"subscribe empty topic", func() error { return c.Subscribe("", 1, noop) }, ErrInvalidTopic},
		{"subscribe invalid qos", func() error { return c.Subscribe("t", 3, noop) }, ErrInvalidQoS},
		{"subscribe nil handler", func() error { return c.Subscribe("t", 1, nil) }, ErrSubscribeFailed},
		{"subscribe disconnected", func() error { return c.Subscribe("t", 1, noop) }, ErrNotConnected},
		{"unsubscribe empty topic", func() error { return c.Unsubscribe("") }, ErrInvalidTopic},
		{"unsubscribe disconnected", func() error { return c.Unsubscribe("t") }, ErrNotConnected},
		{"health check disconnected", func() error { return c.HealthCheck(context.Background()) }, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.HasSubscription("t") {
		t.Error("failed subscribe must not be tracked")
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := disconnectedClient().HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestDispatch_RecoversPanicAndLogsErrors(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "graylogic/command/mystrom/x", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "graylogic/command/mystrom/x", nil)

	if len(logger.errors) != 1 {
		t.Errorf("logged errors = %d, want 1 (panic)", len(logger.errors))
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %d, want 1 (handler error)", len(logger.warns))
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "mystrom-test" {
		t.Errorf("ClientID = %q, want mystrom-test", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if opts.TLSConfig == nil {
		t.Error("TLS config should be set when TLS is enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graylogic/health/mystrom", "mystrom-test")

	if !opts.WillEnabled || opts.WillTopic != "graylogic/health/mystrom" || !opts.WillRetained {
		t.Fatalf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var payload statusPayload
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if payload.Status != "offline" || payload.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", payload)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"BridgeState", topics.BridgeState("mystrom", "switch.kitchen"), "graylogic/state/mystrom/switch.kitchen"},
		{"BridgeCommand", topics.BridgeCommand("mystrom", "switch.kitchen"), "graylogic/command/mystrom/switch.kitchen"},
		{"BridgeAck", topics.BridgeAck("mystrom", "switch.kitchen"), "graylogic/ack/mystrom/switch.kitchen"},
		{"BridgeHealth", topics.BridgeHealth("mystrom"), "graylogic/health/mystrom"},
		{"BridgeCommands", topics.BridgeCommands("mystrom"), "graylogic/command/mystrom/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestEntityFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"graylogic/command/mystrom/switch.kitchen", "switch.kitchen"},
		{"switch.kitchen", "switch.kitchen"},
		{"graylogic/command/mystrom/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			if got := EntityFromTopic(tt.topic); got != tt.want {
				t.Errorf("EntityFromTopic(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}
