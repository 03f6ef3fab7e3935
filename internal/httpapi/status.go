package httpapi

import (
	"net/http"

	"cloudpico-beacon/internal/advertising"
	"cloudpico-beacon/internal/telemetry"
	"cloudpico-beacon/internal/utils"
)

// StatusSource is the read side of the telemetry service.
type StatusSource interface {
	State() advertising.State
	Snapshot() telemetry.Snapshot
}

type statusResponse struct {
	State        string  `json:"state"`
	Advertising  bool    `json:"advertising"`
	Counter      uint32  `json:"adv_count"`
	Frame        string  `json:"frame"`
	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
	UptimeS      float64 `json:"uptime_s"`
}

type statusHandler struct {
	src StatusSource
}

// handleHealthz is 200 while the beacon is on air and 503 otherwise.
func (h *statusHandler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	state := h.src.State()
	if state != advertising.Advertising {
		utils.WriteError(w, http.StatusServiceUnavailable, "not advertising: "+state.String())
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *statusHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := h.src.Snapshot()
	t := snap.Frame.Telemetry()
	utils.WriteJSON(w, http.StatusOK, statusResponse{
		State:        snap.State.String(),
		Advertising:  snap.State == advertising.Advertising,
		Counter:      snap.Counter,
		Frame:        utils.BytesToHex(snap.Frame[:]),
		TemperatureC: t.TemperatureC,
		HumidityPct:  t.HumidityPct,
		UptimeS:      t.UptimeSeconds,
	})
}

func registerStatus(mux *http.ServeMux, src StatusSource) {
	h := &statusHandler{src: src}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /status", h.handleStatus)
}
