package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-beacon/internal/advertising"
	"cloudpico-beacon/internal/config"
	"cloudpico-beacon/internal/fault"
	"cloudpico-beacon/internal/httpapi"
	"cloudpico-beacon/internal/radio"
	"cloudpico-beacon/internal/sensor"
	"cloudpico-beacon/internal/telemetry"
)

// Beacon is the sampling loop: heartbeat, read the sensor, hand the reading to the
// telemetry service, blink faults. Fault blinking happens on the loop goroutine only,
// never under the service lock.
type Beacon struct {
	sensor    sensor.Sensor
	radio     radio.Radio
	indicator *fault.Indicator
	service   *telemetry.Service
	interval  time.Duration
	logger    *slog.Logger

	start       time.Time
	now         func() time.Time
	radioFaults chan error

	sensorFaulted bool
}

type BeaconOptions struct {
	Sensor         sensor.Sensor
	Radio          radio.Radio
	Indicator      *fault.Indicator
	Params         radio.Params
	SampleInterval time.Duration
	Logger         *slog.Logger
}

func NewBeacon(opts BeaconOptions) *Beacon {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctrl := advertising.NewController(opts.Radio, logger)
	return &Beacon{
		sensor:      opts.Sensor,
		radio:       opts.Radio,
		indicator:   opts.Indicator,
		service:     telemetry.NewService(ctrl, opts.Params, logger),
		interval:    opts.SampleInterval,
		logger:      logger,
		now:         time.Now,
		radioFaults: make(chan error, 1),
	}
}

// Service exposes the telemetry pipeline, mostly for inspection.
func (b *Beacon) Service() *telemetry.Service { return b.service }

// Run enables the radio and samples every interval until ctx is done.
func (b *Beacon) Run(ctx context.Context) error {
	b.start = b.now()
	b.enableRadio()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		b.tick(ctx)
		select {
		case <-ctx.Done():
			if err := b.service.Close(); err != nil {
				b.logger.Warn("beacon: stop advertising", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Beacon) enableRadio() {
	err := b.radio.Enable(func(readyErr error) {
		if err := b.service.OnRadioReady(readyErr); err != nil {
			b.reportRadioFault(err)
		}
	})
	if err != nil {
		// no callback will follow; disable the pipeline through the same path
		if ferr := b.service.OnRadioReady(err); ferr != nil {
			b.reportRadioFault(ferr)
		}
	}
}

func (b *Beacon) reportRadioFault(err error) {
	select {
	case b.radioFaults <- err:
	default:
	}
}

func (b *Beacon) tick(ctx context.Context) {
	if err := b.indicator.Heartbeat(); err != nil {
		b.logger.Error("beacon: heartbeat", "error", err)
	}

	select {
	case err := <-b.radioFaults:
		b.logger.Error("beacon: radio initialisation failed, broadcasting disabled", "error", err)
		b.indicate(ctx, fault.CodeOf(err, fault.RadioInitFailed))
	default:
	}

	r, err := b.sensor.ReadSample()
	if err != nil {
		code := sensor.FaultOf(err)
		if b.sensorFaulted {
			b.logger.Debug("beacon: sensor still failing", "fault", code.String(), "error", err)
			return
		}
		b.sensorFaulted = true
		b.logger.Error("beacon: sensor read failed", "fault", code.String(), "error", err)
		b.indicate(ctx, code)
		return
	}
	if b.sensorFaulted {
		b.logger.Info("beacon: sensor recovered")
		b.sensorFaulted = false
	}

	b.logger.Info("beacon: measurement",
		"temperature_c", fmt.Sprintf("%.2f", r.TemperatureC),
		"humidity_pct", fmt.Sprintf("%.2f", r.HumidityPct),
	)

	if err := b.service.OnSample(r, b.uptimeMs()); err != nil {
		if errors.Is(err, telemetry.ErrRadioDisabled) {
			return
		}
		b.logger.Warn("beacon: publish failed, retrying next tick",
			"fault", fault.CodeOf(err, fault.RadioInitFailed).String(),
			"state", b.service.State().String(),
			"error", err,
		)
	}
}

func (b *Beacon) indicate(ctx context.Context, code fault.Code) {
	if err := b.indicator.Indicate(ctx, code); err != nil && ctx.Err() == nil {
		b.logger.Error("beacon: fault indication failed", "fault", code.String(), "error", err)
	}
}

func (b *Beacon) uptimeMs() uint32 {
	return uint32(b.now().Sub(b.start).Milliseconds())
}

// RunBeacon opens the configured hardware and runs the beacon until ctx is done.
func RunBeacon(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()
	slog.Info("initializing beacon",
		"sensor_driver", string(cfg.SensorDriver),
		"radio_driver", cfg.RadioDriver,
		"broadcast", cfg.BroadcastKind.String(),
		"long_range", cfg.LongRange,
		"device_name", cfg.DeviceName,
		"sample_interval", cfg.SampleInterval.String(),
	)

	indicator := fault.NewIndicator(openLED(cfg, logger), fault.Policy{
		Fast:   cfg.ErrorBlinkFast,
		Pause:  cfg.ErrorBlinkPause,
		Repeat: cfg.ErrorBlinkRepeat,
	}, logger)
	defer indicator.Close()

	sens, err := sensor.Open(sensor.Options{
		Driver:  cfg.SensorDriver,
		Bus:     cfg.I2CBus,
		Address: cfg.SensorAddress,
	}, logger)
	if err != nil {
		code := sensor.FaultOf(err)
		slog.Error("sensor not ready", "fault", code.String(), "error", err)
		_ = indicator.Indicate(ctx, code)
		return fault.New(code, err)
	}
	defer sens.Close()

	var r radio.Radio
	switch cfg.RadioDriver {
	case "sim":
		r = radio.NewSim()
	default:
		r = radio.NewBlueZ(cfg.BLEAdapter, logger)
	}

	b := NewBeacon(BeaconOptions{
		Sensor:         sens,
		Radio:          r,
		Indicator:      indicator,
		Params:         cfg.RadioParams(),
		SampleInterval: cfg.SampleInterval,
		Logger:         logger,
	})

	if cfg.StatusAddr != "" {
		srv := httpapi.NewServer(cfg.StatusAddr, httpapi.NewMux(b.Service()))
		go func() {
			if err := httpapi.Serve(ctx, srv); err != nil {
				slog.Error("status server stopped", "addr", cfg.StatusAddr, "error", err)
			}
		}()
	}

	return b.Run(ctx)
}

// openLED falls back to a log-only indicator when no GPIO chip is configured or the
// line cannot be requested; the latter is logged with its LED fault code.
func openLED(cfg config.Config, logger *slog.Logger) fault.Output {
	if cfg.LEDGPIOChip == "" {
		return fault.LogOutput{Logger: logger}
	}
	out, err := fault.OpenGPIO(cfg.LEDGPIOChip, cfg.LEDGPIOLine)
	if err != nil {
		logger.Error("led unavailable, faults will only be logged",
			"fault", fault.CodeOf(err, fault.LEDInit).String(),
			"chip", cfg.LEDGPIOChip,
			"line", cfg.LEDGPIOLine,
			"error", err,
		)
		return fault.LogOutput{Logger: logger}
	}
	return out
}
