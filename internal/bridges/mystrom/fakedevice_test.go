package mystrom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeDevice emulates a plug's local HTTP API. The relay follows /on, /off,
// /relay and /toggle; /report renders the current relay and power.
type fakeDevice struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	relay       bool
	power       float64
	extra       map[string]any
	hits        map[string]int
	paths       []string
	reportCode  int
	reportBody  string
	reportGate  chan struct{}
	reportEnter chan struct{}
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	d := &fakeDevice{
		t:     t,
		extra: map[string]any{
			"temperature": 21.5,
			"W":           1500.0,
			"ws":          -58.0,
			"mac":         "AABBCCDDEEFF",
			"type":        "Switch",
		},
		hits: make(map[string]int),
	}
	d.server = httptest.NewServer(http.HandlerFunc(d.serve))
	t.Cleanup(d.server.Close)
	return d
}

// host returns the device address without scheme.
func (d *fakeDevice) host() string {
	return strings.TrimPrefix(d.server.URL, "http://")
}

func (d *fakeDevice) client() *Client {
	return NewClient(d.host(), d.server.Client(), 0)
}

func (d *fakeDevice) hitCount(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[path]
}

func (d *fakeDevice) requestPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out
}

func (d *fakeDevice) totalHits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.hits {
		n += c
	}
	return n
}

func (d *fakeDevice) setRelay(on bool, power float64) {
	d.mu.Lock()
	d.relay = on
	d.power = power
	d.mu.Unlock()
}

// failReport makes /report answer with code and body until cleared with 0.
func (d *fakeDevice) failReport(code int, body string) {
	d.mu.Lock()
	d.reportCode = code
	d.reportBody = body
	d.mu.Unlock()
}

// gateReport makes /report block until the returned release func is
// called. entered receives once per blocked request.
func (d *fakeDevice) gateReport() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	enter := make(chan struct{}, 16)
	d.mu.Lock()
	d.reportGate = gate
	d.reportEnter = enter
	d.mu.Unlock()

	var once sync.Once
	return enter, func() { once.Do(func() { close(gate) }) }
}

func (d *fakeDevice) withoutExtras(keys ...string) {
	d.mu.Lock()
	for _, k := range keys {
		delete(d.extra, k)
	}
	d.mu.Unlock()
}

func (d *fakeDevice) serve(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.hits[r.URL.Path]++
	d.paths = append(d.paths, r.URL.Path)
	d.mu.Unlock()

	switch r.URL.Path {
	case "/report":
		d.serveReport(w)
	case "/on":
		d.setRelay(true, 12.5)
		w.WriteHeader(http.StatusOK)
	case "/off":
		d.setRelay(false, 0)
		w.WriteHeader(http.StatusOK)
	case "/relay":
		on := r.URL.Query().Get("state") == "1"
		power := 0.0
		if on {
			power = 12.5
		}
		d.setRelay(on, power)
		w.WriteHeader(http.StatusNoContent)
	case "/toggle":
		d.mu.Lock()
		d.relay = !d.relay
		relay := d.relay
		d.mu.Unlock()
		d.writeJSON(w, map[string]any{"relay": relay})
	case "/reboot":
		_, _ = w.Write([]byte("OK"))
	default:
		http.NotFound(w, r)
	}
}

func (d *fakeDevice) serveReport(w http.ResponseWriter) {
	d.mu.Lock()
	gate, enter := d.reportGate, d.reportEnter
	code, body := d.reportCode, d.reportBody
	d.mu.Unlock()

	if gate != nil {
		enter <- struct{}{}
		<-gate
	}
	if code != 0 {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
		return
	}

	d.mu.Lock()
	report := map[string]any{"relay": d.relay, "power": d.power}
	for k, v := range d.extra {
		report[k] = v
	}
	d.mu.Unlock()
	d.writeJSON(w, report)
}

func (d *fakeDevice) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.t.Errorf("encode fake response: %v", err)
	}
}

// staticResolver resolves every entity id in its map.
type staticResolver map[string]string

func (r staticResolver) ResolveEntry(_ context.Context, entityID string) (string, error) {
	id, ok := r[entityID]
	if !ok {
		return "", errors.New("entity not registered")
	}
	return id, nil
}
