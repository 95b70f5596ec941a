package mystrom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Device API endpoints.
const (
	endpointReport = "/report"
	endpointRelay  = "/relay"
	endpointToggle = "/toggle"
	endpointOn     = "/on"
	endpointOff    = "/off"
	endpointReboot = "/reboot"
)

const (
	// DefaultTimeout bounds one device call, connect through body read.
	DefaultTimeout = 10 * time.Second

	// maxBodySize caps how much of a response is read. Reports are a few
	// hundred bytes.
	maxBodySize = 64 << 10
)

// Client talks to one device's local HTTP API at http://<host>.
//
// The *http.Client is borrowed from the caller and never closed or
// reconfigured here. The client never retries; retry cadence belongs to
// the Coordinator.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	host    string
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a client for host ("192.168.1.50" or "plug.lan:8080").
// A zero timeout means DefaultTimeout.
func NewClient(host string, httpClient *http.Client, timeout time.Duration) *Client {
	host = strings.TrimRight(strings.TrimPrefix(strings.TrimSpace(host), "http://"), "/")
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		host:    host,
		baseURL: "http://" + host,
		http:    httpClient,
		timeout: timeout,
	}
}

// Host returns the device host this client targets.
func (c *Client) Host() string {
	return c.host
}

// GetReport fetches and normalizes the device status.
// Returns *ProtocolError when the body is empty or is not a status report.
func (c *Client) GetReport(ctx context.Context) (*Status, error) {
	data, err := c.request(ctx, endpointReport, nil)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &ProtocolError{Host: c.host, Reason: "empty response from device"}
	}

	status := Normalize(data)
	if !status.HasMetrics() {
		return nil, &ProtocolError{Host: c.host, Reason: "response is not a device report"}
	}
	return status, nil
}

// SetRelay switches the relay on or off via /relay?state=1|0.
func (c *Client) SetRelay(ctx context.Context, on bool) error {
	state := "0"
	if on {
		state = "1"
	}
	_, err := c.request(ctx, endpointRelay, url.Values{"state": {state}})
	return err
}

// ToggleRelay flips the relay. Some firmware returns the updated status
// inline; otherwise the returned status is nil.
func (c *Client) ToggleRelay(ctx context.Context) (*Status, error) {
	data, err := c.request(ctx, endpointToggle, nil)
	if err != nil || data == nil {
		return nil, err
	}
	status := Normalize(data)
	if !status.HasMetrics() {
		return nil, nil
	}
	return status, nil
}

// TurnOn forces the relay on.
func (c *Client) TurnOn(ctx context.Context) error {
	_, err := c.request(ctx, endpointOn, nil)
	return err
}

// TurnOff forces the relay off.
func (c *Client) TurnOff(ctx context.Context) error {
	_, err := c.request(ctx, endpointOff, nil)
	return err
}

// Reboot restarts the device. It is unreachable for a while afterwards.
func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.request(ctx, endpointReboot, nil)
	return err
}

// request performs one GET and classifies the outcome:
//   - transport failure -> *ConnectionError
//   - HTTP status >= 400 -> *ProtocolError with status and body
//   - 204 or empty body -> nil, nil (no JSON parse attempted)
//   - JSON object -> the object
//   - anything else non-empty -> {"response": <text>}
func (c *Client) request(ctx context.Context, path string, query url.Values) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &ConnectionError{Host: c.host, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectionError{Host: c.host, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &ConnectionError{Host: c.host, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ProtocolError{Host: c.host, StatusCode: resp.StatusCode, Body: string(body)}
	}

	if resp.StatusCode == http.StatusNoContent || len(body) == 0 {
		return nil, nil
	}

	return decodeBody(body), nil
}

// decodeBody keeps JSON objects as-is and wraps any other payload as a
// plain-text acknowledgement.
func decodeBody(body []byte) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"response": string(body)}
}
