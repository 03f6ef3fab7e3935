package app

import (
	"context"
	"log/slog"

	"cloudpico-beacon/internal/ble"
	"cloudpico-beacon/internal/config"
	"cloudpico-beacon/internal/mqtt"
	"cloudpico-beacon/internal/tlm"
)

// RunScanner listens for beacon frames and republishes them over MQTT until ctx is done.
func RunScanner(ctx context.Context, cfg config.Config) error {
	slog.Info("initializing tlm scanner",
		"adapter", cfg.BLEAdapter,
		"name_filter", cfg.ScanNameFilter,
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"mqtt_client_id", cfg.MQTTClientID,
	)

	mqttClient, err := mqtt.NewClient(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer mqttClient.Disconnect()

	go func() {
		// Connect retries with backoff inside paho; frames seen before that are logged only.
		if err := mqttClient.Connect(ctx); err != nil && ctx.Err() == nil {
			slog.Error("mqtt connect failed", "error", err)
		}
	}()

	listener := ble.NewListener(ble.Options{
		Adapter: cfg.BLEAdapter,
		Filter: ble.Filter{
			LocalName:   cfg.ScanNameFilter,
			ServiceUUID: tlm.EddystoneServiceUUID,
		},
	})
	handler := ble.NewTLMHandler(mqttClient, cfg.DeviceStationID, slog.Default())
	handler.StartListener(ctx, listener)

	<-ctx.Done()

	slog.Info("tlm scanner shutting down")
	return nil
}
