package ble

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"cloudpico-beacon/internal/mqtt"
	"cloudpico-beacon/internal/tlm"
	"cloudpico-beacon/internal/utils"
)

const (
	bleDedupMaxIDsPerDevice = 500
	// Counts this close to either end of the uint32 range are treated as a wrap,
	// not a beacon restart.
	bleCounterWrapWindow = 1 << 16
)

// Publisher is the part of the MQTT client the handler needs.
type Publisher interface {
	PublishTelemetry(stationID string, t mqtt.Telemetry) error
	PublishStationHealth(h mqtt.StationHealth) error
}

// TLMHandler decodes Eddystone-TLM frames, drops repeats of the same advertisement
// count and republishes the rest.
type TLMHandler struct {
	publisher Publisher
	stationID string
	logger    *slog.Logger
	now       func() time.Time

	dedupMu sync.Mutex
	seen    map[string]*seenCounts
}

// seenCounts is the dedup window of one beacon address.
type seenCounts struct {
	counts map[uint32]struct{}
	last   uint32
}

func NewTLMHandler(publisher Publisher, stationID string, logger *slog.Logger) *TLMHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TLMHandler{
		publisher: publisher,
		stationID: stationID,
		logger:    logger,
		now:       time.Now,
		seen:      make(map[string]*seenCounts),
	}
}

// HandleMatch processes one observation. It reports whether the frame was new.
func (h *TLMHandler) HandleMatch(m Match) bool {
	t, err := tlm.Decode(m.Data)
	if err != nil {
		if errors.Is(err, tlm.ErrFrameType) {
			// UID, URL and EID frames share the Eddystone service UUID
			h.logger.Debug("ble: ignore non-telemetry frame", "addr", m.Address, "data", utils.BytesToHex(m.Data))
		} else {
			h.logger.Debug("ble: ignore malformed frame", "addr", m.Address, "error", err)
		}
		return false
	}

	if !h.firstSeen(m.Address, t.AdvertisementCount) {
		return false
	}

	h.logger.Info("ble: telemetry received",
		"addr", m.Address,
		"name", m.LocalName,
		"rssi", m.RSSI,
		"T", t.TemperatureC,
		"H", t.HumidityPct,
		"count", t.AdvertisementCount,
		"uptime_s", t.UptimeSeconds,
		"data", utils.BytesToHex(m.Data),
	)

	if h.publisher == nil {
		return true
	}

	seenAt := m.SeenAt
	if seenAt.IsZero() {
		seenAt = h.now()
	}
	rssi := m.RSSI
	temp, hum, count, uptime := t.TemperatureC, t.HumidityPct, t.AdvertisementCount, t.UptimeSeconds
	telemetry := mqtt.Telemetry{
		Timestamp:          seenAt,
		Address:            m.Address,
		RSSI:               &rssi,
		Temperature:        &temp,
		Humidity:           &hum,
		AdvertisementCount: &count,
		UptimeSeconds:      &uptime,
	}
	if err := h.publisher.PublishTelemetry(h.stationID, telemetry); err != nil {
		h.logger.Warn("ble: failed to publish telemetry", "addr", m.Address, "count", count, "error", err)
		return true
	}
	if err := h.publisher.PublishStationHealth(mqtt.StationHealth{
		StationID: h.stationID,
		Address:   m.Address,
		LastSeen:  seenAt,
		Healthy:   true,
	}); err != nil {
		h.logger.Warn("ble: failed to publish station health", "addr", m.Address, "error", err)
	}
	return true
}

// firstSeen reports whether count is new for addr. The beacon counter restarts at zero
// on every boot, so a count below the last one seen (and not a wrap) resets the window.
func (h *TLMHandler) firstSeen(addr string, count uint32) bool {
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()

	sc := h.seen[addr]
	switch {
	case sc == nil:
		sc = &seenCounts{counts: make(map[uint32]struct{})}
		h.seen[addr] = sc
	case count < sc.last && !isCounterWrap(sc.last, count):
		h.logger.Info("ble: beacon counter restarted", "addr", addr, "last", sc.last, "count", count)
		sc.counts = make(map[uint32]struct{})
	}

	if _, ok := sc.counts[count]; ok {
		return false
	}
	sc.counts[count] = struct{}{}
	sc.last = count
	if len(sc.counts) > bleDedupMaxIDsPerDevice {
		sc.counts = map[uint32]struct{}{count: {}}
	}
	return true
}

func isCounterWrap(last, count uint32) bool {
	return last > math.MaxUint32-bleCounterWrapWindow && count < bleCounterWrapWindow
}

// StartListener runs listener with this handler on a new goroutine.
func (h *TLMHandler) StartListener(ctx context.Context, listener *Listener) {
	go func() {
		err := listener.Run(ctx, func(m Match) { h.HandleMatch(m) })
		if err != nil {
			h.logger.Warn("ble listener could not be initialized; scanner continues without BLE",
				"error", err,
			)
		}
	}()
}
