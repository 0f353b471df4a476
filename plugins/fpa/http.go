package fpa

import (
	"encoding/json"
	"errors"
	"net/http"
)

// RegisterHTTP exposes device snapshots as JSON.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	if p.client == nil {
		return
	}
	h := &deviceHandler{client: p.client}
	mux.HandleFunc("GET /fpa/devices", h.list)
	mux.HandleFunc("GET /fpa/devices/{id}", h.get)
	mux.HandleFunc("GET /fpa/devices/{id}/shadow", h.shadow)
}

type deviceHandler struct {
	client *Client
}

func (h *deviceHandler) list(w http.ResponseWriter, _ *http.Request) {
	devices := h.client.Devices()
	out := make([]devicePayload, 0, len(devices))
	for _, device := range devices {
		out = append(out, newDevicePayload(device))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *deviceHandler) get(w http.ResponseWriter, r *http.Request) {
	device, err := h.client.Device(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDevicePayload(device))
}

func (h *deviceHandler) shadow(w http.ResponseWriter, r *http.Request) {
	doc, err := h.client.ShadowDocument(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if doc == nil {
		http.Error(w, "device details not loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnknownDevice) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
