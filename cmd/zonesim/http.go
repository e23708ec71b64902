// v1
// cmd/zonesim/http.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// httpEmitter posts readings to the controller's device ingress and applies
// the valve decision that comes back in the response.
type httpEmitter struct {
	log    *slog.Logger
	sim    *Simulator
	client *http.Client
	url    string
	apiKey string
}

func newHTTPEmitter(cfg SimConfig, sim *Simulator, log *slog.Logger) *httpEmitter {
	return &httpEmitter{
		log:    log,
		sim:    sim,
		client: &http.Client{Timeout: 10 * time.Second},
		url:    strings.TrimRight(cfg.ControllerURL, "/") + "/api/zones/" + cfg.ZoneID + "/readings",
		apiKey: cfg.DeviceAPIKey,
	}
}

func (e *httpEmitter) emit(ctx context.Context) {
	payload, _ := json.Marshal(e.sim.reading())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		e.log.Error("build request failed", "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", e.apiKey)
	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Warn("reading post failed", "err", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		e.log.Warn("reading rejected", "status", resp.StatusCode)
		return
	}
	var out struct {
		ValveAction string `json:"valveAction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		e.log.Warn("decision decode failed", "err", err)
		return
	}
	e.sim.setValve(out.ValveAction)
}
