package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListEntities(t *testing.T) {
	srv, m := testServer(t, testOptions{})
	router := srv.buildRouter()
	setupPlug(t, m, "Desk")

	resp := decode(t, do(t, router, http.MethodGet, "/api/v1/entities", ""))
	assert.Equal(t, 3.0, resp["count"])

	resp = decode(t, do(t, router, http.MethodGet, "/api/v1/entities?platform=switch", ""))
	require.Equal(t, 1.0, resp["count"])
	entities, _ := resp["entities"].([]any)
	first, _ := entities[0].(map[string]any)
	assert.Equal(t, "switch.desk", first["entity_id"])
	assert.Equal(t, "off", first["state"])
}

func TestGetEntity(t *testing.T) {
	srv, m := testServer(t, testOptions{})
	router := srv.buildRouter()
	setupPlug(t, m, "Desk")

	w := do(t, router, http.MethodGet, "/api/v1/entities/sensor.desk_temperature", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 22.0, decode(t, w)["state"])

	w = do(t, router, http.MethodGet, "/api/v1/entities/switch.nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCallService_TurnOnAndOff(t *testing.T) {
	srv, m := testServer(t, testOptions{})
	router := srv.buildRouter()
	p, _ := setupPlug(t, m, "Desk")

	w := do(t, router, http.MethodPost, "/api/v1/services/turn_on", `{"entity_id":"switch.desk"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, p.isOn())

	resp := decode(t, w)
	assert.Equal(t, "accepted", resp["status"])
	state, _ := resp["state"].(map[string]any)
	assert.Equal(t, "on", state["state"])

	w = do(t, router, http.MethodPost, "/api/v1/services/turn_off", `{"entity_id":"switch.desk"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, p.isOn())
}

func TestCallService_SetRelayState(t *testing.T) {
	srv, m := testServer(t, testOptions{})
	router := srv.buildRouter()
	p, _ := setupPlug(t, m, "Desk")

	w := do(t, router, http.MethodPost, "/api/v1/services/set_relay_state", `{"entity_id":"switch.desk"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/services/set_relay_state", `{"entity_id":"switch.desk","state":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, p.isOn())
}

func TestCallService_Errors(t *testing.T) {
	srv, m := testServer(t, testOptions{})
	router := srv.buildRouter()
	p, _ := setupPlug(t, m, "Desk")

	tests := []struct {
		name    string
		service string
		body    string
		want    int
	}{
		{"unknown service", "explode", `{"entity_id":"switch.desk"}`, http.StatusNotFound},
		{"invalid json", "turn_on", `{`, http.StatusBadRequest},
		{"missing entity", "turn_on", `{}`, http.StatusBadRequest},
		{"unknown entity", "turn_on", `{"entity_id":"switch.garage"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := p.requests()
			w := do(t, router, http.MethodPost, "/api/v1/services/"+tt.service, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, before, p.requests(), "no device call expected")
		})
	}
}

func TestCallService_DeviceDown(t *testing.T) {
	srv, m := testServer(t, testOptions{})
	p, _ := setupPlug(t, m, "Desk")
	p.server.Close()

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/services/toggle", `{"entity_id":"switch.desk"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, ErrCodeDevice, decode(t, w)["code"])
}
