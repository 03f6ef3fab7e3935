package radio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"cloudpico-beacon/internal/tlm"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// BlueZ drives a Linux HCI adapter through tinygo.org/x/bluetooth.
// The adapter has one advertisement instance, so only one channel can be live.
type BlueZ struct {
	name    string
	adapter *bluetooth.Adapter
	logger  *slog.Logger

	mu      sync.Mutex
	enabled bool
	live    *bluezChannel
	ess     *essService
}

func NewBlueZ(adapterName string, logger *slog.Logger) *BlueZ {
	if adapterName == "" {
		adapterName = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlueZ{
		name:    adapterName,
		adapter: bluetooth.NewAdapter(adapterName),
		logger:  logger,
	}
}

// Enable powers the adapter on a separate goroutine and reports the outcome to onReady.
func (b *BlueZ) Enable(onReady func(error)) error {
	go func() {
		b.logger.Info("radio: enabling adapter", "adapter", b.name)
		err := b.adapter.Enable()
		if err != nil {
			err = fmt.Errorf("ble enable (%s): %w", b.name, err)
		} else {
			b.mu.Lock()
			b.enabled = true
			b.mu.Unlock()
			b.logger.Info("radio: adapter enabled", "adapter", b.name)
		}
		if onReady != nil {
			onReady(err)
		}
	}()
	return nil
}

func (b *BlueZ) CreateChannel(p Params) (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return nil, ErrNotEnabled
	}
	if b.live != nil {
		return nil, ErrNoResources
	}
	for _, w := range bluezLimitations(p) {
		b.logger.Warn("radio: "+w, "adapter", b.name, "kind", p.Kind.String())
	}

	ch := &bluezChannel{
		radio:  b,
		params: p,
		adv:    b.adapter.DefaultAdvertisement(),
	}
	if p.Kind == GATTNotify {
		svc, err := b.essServiceLocked(p.ServiceUUID)
		if err != nil {
			return nil, err
		}
		ch.ess = svc
	}
	b.live = ch
	return ch, nil
}

// essServiceLocked registers the Environmental Sensing service on first use. BlueZ offers
// no way to remove it again, so later GATT channels share the registration.
func (b *BlueZ) essServiceLocked(id uuid.UUID) (*essService, error) {
	if b.ess != nil {
		return b.ess, nil
	}
	svcUUID := bluetooth.ServiceUUIDEnvironmentalSensing
	if id != uuid.Nil {
		svcUUID = bluetooth.NewUUID(id)
	}
	svc := &essService{uuid: svcUUID}
	err := b.adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &svc.temperature,
				UUID:   bluetooth.CharacteristicUUIDTemperature,
				Value:  []byte{0, 0},
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
			{
				Handle: &svc.humidity,
				UUID:   bluetooth.CharacteristicUUIDHumidity,
				Value:  []byte{0, 0},
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ble add service %s: %w", svcUUID.String(), err)
	}
	b.ess = svc
	return svc, nil
}

type essService struct {
	uuid        bluetooth.UUID
	temperature bluetooth.Characteristic
	humidity    bluetooth.Characteristic
}

type bluezChannel struct {
	radio  *BlueZ
	params Params
	adv    *bluetooth.Advertisement
	ess    *essService

	frame       tlm.Frame
	advertising bool
	closed      bool
}

func (c *bluezChannel) Kind() Kind { return c.params.Kind }

func (c *bluezChannel) SetPayload(f tlm.Frame) error {
	if c.closed {
		return ErrClosed
	}
	c.frame = f
	if c.ess != nil {
		return c.notify(f)
	}
	// Service data is captured by Configure, so the advertisement is rebuilt per frame.
	return c.configure()
}

func (c *bluezChannel) Start() error {
	if c.closed {
		return ErrClosed
	}
	if c.advertising {
		return ErrAlreadyStarted
	}
	if c.ess != nil {
		if err := c.configure(); err != nil {
			return err
		}
	}
	if err := c.adv.Start(); err != nil {
		return fmt.Errorf("ble advertise start: %w", err)
	}
	c.advertising = true
	return nil
}

func (c *bluezChannel) Stop() error {
	if c.closed {
		return ErrClosed
	}
	if !c.advertising {
		return ErrAlreadyStopped
	}
	if err := c.adv.Stop(); err != nil {
		return fmt.Errorf("ble advertise stop: %w", err)
	}
	c.advertising = false
	return nil
}

func (c *bluezChannel) Close() error {
	if c.closed {
		return ErrClosed
	}
	var err error
	if c.advertising {
		if serr := c.adv.Stop(); serr != nil {
			err = fmt.Errorf("ble advertise stop: %w", serr)
		}
		c.advertising = false
	}
	c.closed = true

	c.radio.mu.Lock()
	if c.radio.live == c {
		c.radio.live = nil
	}
	c.radio.mu.Unlock()
	return err
}

// configure exports a fresh advertisement. The library allocates a new D-Bus object
// (and rewrites the adapter alias) on every Configure and has no way to release the old
// object, so each broadcast payload update leaves one stale export behind until exit.
func (c *bluezChannel) configure() error {
	if err := c.adv.Configure(advertisementOptions(c.params, c.frame, c.ess)); err != nil {
		return fmt.Errorf("ble advertise configure: %w", err)
	}
	return nil
}

// advertisementOptions builds the advertisement for one channel. LocalName is always set:
// BlueZ only puts a name in the advertising data when the advertisement carries one, and
// scanners filter on it.
func advertisementOptions(p Params, frame tlm.Frame, ess *essService) bluetooth.AdvertisementOptions {
	opts := bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		LocalName:         p.LocalName,
		Interval:          bluetooth.NewDuration(p.Interval),
	}
	if ess != nil {
		opts.AdvertisementType = bluetooth.AdvertisingTypeInd
		opts.ServiceUUIDs = []bluetooth.UUID{ess.uuid}
		return opts
	}
	data := frame
	opts.ServiceData = []bluetooth.ServiceDataElement{
		{UUID: bluetooth.New16BitUUID(tlm.EddystoneServiceUUID), Data: data[:]},
	}
	return opts
}

// bluezLimitations lists what the BlueZ backend cannot honour for p.
func bluezLimitations(p Params) []string {
	var out []string
	if p.LongRange {
		out = append(out, "coded PHY not supported by this stack, advertising on 1M PHY")
	}
	if p.Kind == GATTNotify {
		// tinygo bluetooth exports every LEAdvertisement1 with Type "broadcast".
		out = append(out, "advertisement is registered non-connectable; centrals can reach "+
			"the sensing service only while another connectable advertisement is active "+
			"(e.g. bluetoothctl advertise on)")
	}
	return out
}

func (c *bluezChannel) notify(f tlm.Frame) error {
	temp, hum := ESSValues(f.Telemetry())
	if _, err := c.ess.temperature.Write(temp[:]); err != nil {
		return fmt.Errorf("ble notify temperature: %w", err)
	}
	if _, err := c.ess.humidity.Write(hum[:]); err != nil {
		return fmt.Errorf("ble notify humidity: %w", err)
	}
	return nil
}

// ESSValues encodes a reading as Environmental Sensing characteristic values:
// temperature sint16 in 0.01 °C, humidity uint16 in 0.01 %, both little-endian.
// Out-of-range values saturate.
func ESSValues(t tlm.Telemetry) (temp, hum [2]byte) {
	tc := math.Round(t.TemperatureC * 100)
	tc = math.Max(math.MinInt16, math.Min(math.MaxInt16, tc))
	if math.IsNaN(tc) {
		tc = 0
	}
	binary.LittleEndian.PutUint16(temp[:], uint16(int16(tc)))

	h := math.Round(t.HumidityPct * 100)
	h = math.Max(0, math.Min(math.MaxUint16, h))
	if math.IsNaN(h) {
		h = 0
	}
	binary.LittleEndian.PutUint16(hum[:], uint16(h))
	return temp, hum
}
