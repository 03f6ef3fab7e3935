package radio

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"cloudpico-beacon/internal/tlm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in        string
		kind      Kind
		longRange bool
		wantErr   bool
	}{
		{in: "eddystone", kind: Broadcast},
		{in: " Eddystone ", kind: Broadcast},
		{in: "eddystone-long-range", kind: Broadcast, longRange: true},
		{in: "gatt", kind: GATTNotify},
		{in: "ibeacon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, lr, err := ParseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.longRange, lr)
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "broadcast", Broadcast.String())
	assert.Equal(t, "gatt-notify", GATTNotify.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestESSValues(t *testing.T) {
	tests := []struct {
		name     string
		in       tlm.Telemetry
		wantTemp [2]byte
		wantHum  [2]byte
	}{
		{name: "typical", in: tlm.Telemetry{TemperatureC: 23.5, HumidityPct: 45}, wantTemp: [2]byte{0x2E, 0x09}, wantHum: [2]byte{0x94, 0x11}},
		{name: "negative", in: tlm.Telemetry{TemperatureC: -1, HumidityPct: 0}, wantTemp: [2]byte{0x9C, 0xFF}, wantHum: [2]byte{0, 0}},
		{name: "saturates", in: tlm.Telemetry{TemperatureC: 1000, HumidityPct: -5}, wantTemp: [2]byte{0xFF, 0x7F}, wantHum: [2]byte{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			temp, hum := ESSValues(tt.in)
			assert.Equal(t, tt.wantTemp, temp)
			assert.Equal(t, tt.wantHum, hum)
		})
	}
}

func enabledSim(t *testing.T) *Sim {
	t.Helper()
	s := NewSim()
	var got error = errors.New("not called")
	require.NoError(t, s.Enable(func(err error) { got = err }))
	require.NoError(t, got)
	return s
}

func TestAdvertisementOptions(t *testing.T) {
	var counter uint32
	frame := tlm.Encode(tlm.Reading{TemperatureC: 23.5, HumidityPct: 45}, &counter, 1000)
	p := Params{Kind: Broadcast, LocalName: "cloudpico-beacon", Interval: time.Second}

	opts := advertisementOptions(p, frame, nil)
	assert.Equal(t, "cloudpico-beacon", opts.LocalName)
	assert.Equal(t, bluetooth.AdvertisingTypeNonConnInd, opts.AdvertisementType)
	assert.Equal(t, bluetooth.NewDuration(time.Second), opts.Interval)
	require.Len(t, opts.ServiceData, 1)
	assert.Equal(t, bluetooth.New16BitUUID(tlm.EddystoneServiceUUID), opts.ServiceData[0].UUID)
	assert.Equal(t, frame.Bytes(), opts.ServiceData[0].Data)
	assert.Empty(t, opts.ServiceUUIDs)

	p.Kind = GATTNotify
	ess := &essService{uuid: bluetooth.ServiceUUIDEnvironmentalSensing}
	opts = advertisementOptions(p, frame, ess)
	assert.Equal(t, "cloudpico-beacon", opts.LocalName)
	assert.Equal(t, bluetooth.AdvertisingTypeInd, opts.AdvertisementType)
	assert.Equal(t, []bluetooth.UUID{bluetooth.ServiceUUIDEnvironmentalSensing}, opts.ServiceUUIDs)
	assert.Empty(t, opts.ServiceData)
}

func TestBlueZLimitations(t *testing.T) {
	assert.Empty(t, bluezLimitations(Params{Kind: Broadcast}))

	got := bluezLimitations(Params{Kind: Broadcast, LongRange: true})
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "coded PHY")

	got = bluezLimitations(Params{Kind: GATTNotify})
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "non-connectable")
}

func TestSim_Lifecycle(t *testing.T) {
	s := enabledSim(t)
	ch, err := s.CreateChannel(Params{Kind: Broadcast, LocalName: "beacon"})
	require.NoError(t, err)
	sc := ch.(*SimChannel)

	assert.ErrorIs(t, ch.Stop(), ErrAlreadyStopped)

	var f1, f2 tlm.Frame
	f1[0], f2[0] = 1, 2
	require.NoError(t, ch.SetPayload(f1))
	require.NoError(t, ch.Start())
	assert.True(t, sc.Advertising())
	assert.ErrorIs(t, ch.Start(), ErrAlreadyStarted)

	require.NoError(t, ch.SetPayload(f2))
	assert.Equal(t, []tlm.Frame{f1, f2}, sc.Sent())

	require.NoError(t, ch.Stop())
	assert.ErrorIs(t, ch.Stop(), ErrAlreadyStopped)
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Start(), ErrClosed)
	assert.Nil(t, s.Live())
}

func TestSim_StartRequiresPayload(t *testing.T) {
	s := enabledSim(t)
	ch, err := s.CreateChannel(Params{})
	require.NoError(t, err)
	assert.Error(t, ch.Start())
}

func TestSim_SingleAdvertisingSet(t *testing.T) {
	s := enabledSim(t)
	first, err := s.CreateChannel(Params{})
	require.NoError(t, err)

	_, err = s.CreateChannel(Params{})
	assert.ErrorIs(t, err, ErrNoResources)

	require.NoError(t, first.Close())
	second, err := s.CreateChannel(Params{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.(*SimChannel).ID())
	assert.Equal(t, 2, s.Channels())
}

func TestSim_FailNext(t *testing.T) {
	s := enabledSim(t)
	boom := errors.New("hci: command disallowed")
	s.FailNext(OpCreate, boom)

	_, err := s.CreateChannel(Params{})
	assert.ErrorIs(t, err, boom)

	ch, err := s.CreateChannel(Params{})
	require.NoError(t, err)
	require.NoError(t, ch.SetPayload(tlm.Frame{}))

	s.FailNext(OpStart, boom)
	assert.ErrorIs(t, ch.Start(), boom)
	require.NoError(t, ch.Start())

	events := s.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, OpStart, last.Op)
	assert.NoError(t, last.Err)
}

func TestSim_NotEnabled(t *testing.T) {
	s := NewSim()
	_, err := s.CreateChannel(Params{})
	assert.ErrorIs(t, err, ErrNotEnabled)

	s.ReadyErr = errors.New("no controller")
	var got error
	require.NoError(t, s.Enable(func(err error) { got = err }))
	assert.EqualError(t, got, "no controller")
	_, err = s.CreateChannel(Params{})
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestSim_EnableFailureAndAsync(t *testing.T) {
	s := NewSim()
	s.FailNext(OpEnable, errors.New("rfkill"))
	assert.Error(t, s.Enable(nil))

	s.Async = true
	var called atomic.Bool
	require.NoError(t, s.Enable(func(err error) {
		assert.NoError(t, err)
		called.Store(true)
	}))
	assert.Eventually(t, called.Load, time.Second, time.Millisecond)
	assert.Error(t, s.Enable(nil), "second enable")
}
