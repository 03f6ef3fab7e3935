package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloudpico-beacon/internal/tlm"
	"cloudpico-beacon/internal/utils"

	"tinygo.org/x/bluetooth"
)

// Match is a single observation of a telemetry beacon.
type Match struct {
	Address   string
	RSSI      int16
	LocalName string
	Data      []byte // Eddystone service data
	SeenAt    time.Time
}

// Filter selects telemetry beacons by name and service-data UUID.
type Filter struct {
	// LocalName matches case-insensitively as a substring; empty matches every device.
	LocalName   string
	ServiceUUID uint16
}

type Options struct {
	Adapter string // "hci0" by default
	Filter  Filter
}

// Listener wraps BlueZ scanning with context cancellation.
type Listener struct {
	adapter *bluetooth.Adapter
	opts    Options
}

func NewListener(opts Options) *Listener {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.Filter.ServiceUUID == 0 {
		opts.Filter.ServiceUUID = tlm.EddystoneServiceUUID
	}

	return &Listener{
		adapter: bluetooth.NewAdapter(opts.Adapter),
		opts:    opts,
	}
}

// Run scans until ctx is done, calling onMatch for every advertisement that passes
// the filter. Cancellation is a clean stop and returns nil.
func (l *Listener) Run(ctx context.Context, onMatch func(Match)) error {
	log := slog.With("adapter", l.opts.Adapter)
	if err := l.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", l.opts.Adapter, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = l.adapter.StopScan() })
	defer stop()

	log.Info("ble: scanning for telemetry beacons",
		"filter_name", l.opts.Filter.LocalName,
		"filter_service", utils.Hex4(l.opts.Filter.ServiceUUID),
	)

	// Scan blocks until StopScan or an adapter error.
	err := l.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		name := r.LocalName()
		data, ok := l.opts.Filter.match(name, r.ServiceData())
		if !ok || onMatch == nil {
			return
		}
		onMatch(Match{
			Address:   r.Address.String(),
			RSSI:      r.RSSI,
			LocalName: name,
			Data:      data,
			SeenAt:    time.Now(),
		})
	})

	switch {
	case ctx.Err() != nil:
		log.Info("ble: scanning stopped", "reason", context.Cause(ctx))
		return nil
	case err != nil:
		return fmt.Errorf("ble scan: %w", err)
	}
	log.Info("ble: scanning stopped")
	return nil
}

// match returns a copy of the service data advertised under the filter's UUID.
func (f Filter) match(localName string, elems []bluetooth.ServiceDataElement) ([]byte, bool) {
	if f.LocalName != "" && !strings.Contains(strings.ToLower(localName), strings.ToLower(f.LocalName)) {
		return nil, false
	}
	want := bluetooth.New16BitUUID(f.ServiceUUID)
	for _, sd := range elems {
		if sd.UUID != want {
			continue
		}
		return append([]byte(nil), sd.Data...), true
	}
	return nil, false
}
