package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	c := New()

	if c.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", c.Timeout, DefaultTimeout)
	}
	ua, ok := c.Transport.(*userAgentTransport)
	if !ok {
		t.Fatalf("Transport = %T, want *userAgentTransport", c.Transport)
	}
	base, ok := ua.base.(*http.Transport)
	if !ok {
		t.Fatalf("base transport = %T, want *http.Transport", ua.base)
	}
	if base.MaxConnsPerHost != DefaultMaxConnsPerHost {
		t.Errorf("MaxConnsPerHost = %d, want %d", base.MaxConnsPerHost, DefaultMaxConnsPerHost)
	}
	if base.Proxy != nil {
		t.Error("device transport must not use a proxy")
	}
}

func TestNew_Options(t *testing.T) {
	rt := NewTransport()
	c := New(WithTimeout(time.Second), WithUserAgent(""), WithTransport(rt))

	if c.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", c.Timeout)
	}
	if c.Transport != rt {
		t.Error("empty user agent should leave the given transport unwrapped")
	}
}

func TestUserAgent(t *testing.T) {
	tests := []struct {
		name   string
		preset string
		want   string
	}{
		{name: "default applied", preset: "", want: "test-agent/1.0"},
		{name: "explicit header kept", preset: "custom", want: "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("User-Agent")
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			c := New(WithUserAgent("test-agent/1.0"))
			defer CloseIdle(c)

			req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.preset != "" {
				req.Header.Set("User-Agent", tt.preset)
			}
			resp, err := c.Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			resp.Body.Close()

			if got != tt.want {
				t.Errorf("User-Agent = %q, want %q", got, tt.want)
			}
		})
	}
}
