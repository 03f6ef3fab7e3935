package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cloudpico-beacon/internal/radio"
	"cloudpico-beacon/internal/sensor"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	SensorDriver   sensor.Driver
	I2CBus         string
	SensorAddress  uint16
	SampleInterval time.Duration

	RadioDriver     string
	BLEAdapter      string
	BroadcastKind   radio.Kind
	LongRange       bool
	DeviceName      string
	AdvInterval     time.Duration
	GATTServiceUUID uuid.UUID

	LEDGPIOChip      string
	LEDGPIOLine      uint32
	ErrorBlinkFast   time.Duration
	ErrorBlinkPause  time.Duration
	ErrorBlinkRepeat int

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
	ScanNameFilter  string
	DeviceStationID string

	// StatusAddr is the listen address of the beacon status endpoint; empty disables it.
	StatusAddr string
}

// LoadFromEnv reads the configuration from the environment. When CONFIG_FILE names an
// HCL file its values act as defaults; a non-empty environment variable always wins.
func LoadFromEnv() (Config, error) {
	src, err := newSource(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}

	appEnv := src.get("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(src.get("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	sensorDriver, err := sensor.ParseDriver(src.get("SENSOR_DRIVER", string(sensor.DriverSHT3x)))
	if err != nil {
		return Config{}, err
	}

	sensorAddressStr := src.get("SENSOR_ADDRESS", "0")
	sensorAddress, err := strconv.ParseUint(sensorAddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_ADDRESS %q: %w", sensorAddressStr, err)
	}
	if sensorAddress > 0x7F {
		return Config{}, fmt.Errorf("SENSOR_ADDRESS must be a 7-bit I2C address, got %q", sensorAddressStr)
	}

	sampleInterval, err := parsePositiveDuration(src, "SAMPLE_INTERVAL", "2s")
	if err != nil {
		return Config{}, err
	}

	radioDriver := strings.ToLower(src.get("RADIO_DRIVER", "bluez"))
	switch radioDriver {
	case "bluez", "sim":
	default:
		return Config{}, fmt.Errorf("invalid RADIO_DRIVER %q (allowed: bluez, sim)", radioDriver)
	}

	kind, longRange, err := radio.ParseMode(src.get("BROADCAST_MODE", "eddystone"))
	if err != nil {
		return Config{}, err
	}

	deviceName := src.get("DEVICE_NAME", "cloudpico-beacon")
	if len(deviceName) > 29 {
		return Config{}, fmt.Errorf("DEVICE_NAME %q does not fit an advertising packet (max 29 bytes)", deviceName)
	}

	advInterval, err := parsePositiveDuration(src, "ADV_INTERVAL", "1s")
	if err != nil {
		return Config{}, err
	}
	if advInterval < 20*time.Millisecond || advInterval > 10240*time.Millisecond {
		return Config{}, fmt.Errorf("ADV_INTERVAL must be between 20ms and 10.24s, got %v", advInterval)
	}

	var serviceUUID uuid.UUID
	if s := src.get("GATT_SERVICE_UUID", ""); s != "" {
		serviceUUID, err = uuid.Parse(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid GATT_SERVICE_UUID %q: %w", s, err)
		}
	}

	ledLineStr := src.get("LED_GPIO_LINE", "0")
	ledLine, err := strconv.ParseUint(ledLineStr, 10, 32)
	if err != nil {
		return Config{}, fmt.Errorf("invalid LED_GPIO_LINE %q: %w", ledLineStr, err)
	}

	blinkFast, err := parsePositiveDuration(src, "ERROR_BLINK_FAST", "200ms")
	if err != nil {
		return Config{}, err
	}
	blinkPause, err := parsePositiveDuration(src, "ERROR_BLINK_PAUSE", "1500ms")
	if err != nil {
		return Config{}, err
	}
	blinkRepeatStr := src.get("ERROR_BLINK_REPEAT", "3")
	blinkRepeat, err := strconv.Atoi(blinkRepeatStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid ERROR_BLINK_REPEAT %q: %w", blinkRepeatStr, err)
	}
	if blinkRepeat < 1 {
		return Config{}, fmt.Errorf("ERROR_BLINK_REPEAT must be at least 1, got %d", blinkRepeat)
	}

	mqttPortStr := src.get("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,

		SensorDriver:   sensorDriver,
		I2CBus:         src.get("I2C_BUS", ""),
		SensorAddress:  uint16(sensorAddress),
		SampleInterval: sampleInterval,

		RadioDriver:     radioDriver,
		BLEAdapter:      src.get("BLE_ADAPTER", "hci0"),
		BroadcastKind:   kind,
		LongRange:       longRange,
		DeviceName:      deviceName,
		AdvInterval:     advInterval,
		GATTServiceUUID: serviceUUID,

		LEDGPIOChip:      src.get("LED_GPIO_CHIP", ""),
		LEDGPIOLine:      uint32(ledLine),
		ErrorBlinkFast:   blinkFast,
		ErrorBlinkPause:  blinkPause,
		ErrorBlinkRepeat: blinkRepeat,

		MQTTBroker:      src.get("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTClientID:    src.get("MQTT_CLIENT_ID", "cloudpico-tlm-scanner"),
		MQTTTopicPrefix: strings.Trim(src.get("MQTT_TOPIC_PREFIX", "cloudpico"), "/"),
		ScanNameFilter:  src.get("SCAN_NAME_FILTER", deviceName),
		DeviceStationID: src.get("DEVICE_STATION_ID", "home"),

		StatusAddr: src.get("STATUS_ADDR", ""),
	}, nil
}

// RadioParams is the channel configuration derived from the broadcast settings.
func (c Config) RadioParams() radio.Params {
	return radio.Params{
		Kind:        c.BroadcastKind,
		LocalName:   c.DeviceName,
		Interval:    c.AdvInterval,
		LongRange:   c.LongRange,
		ServiceUUID: c.GATTServiceUUID,
	}
}

func parsePositiveDuration(src source, key, def string) (time.Duration, error) {
	s := src.get(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

// source resolves a key from the environment first, then from the config file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	if path == "" {
		return source{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("read CONFIG_FILE %q: %w", path, err)
	}
	var raw map[string]interface{}
	if err := hcl.Unmarshal(b, &raw); err != nil {
		return source{}, fmt.Errorf("parse CONFIG_FILE %q: %w", path, err)
	}
	file := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case string, int, int64, float64, bool:
			file[strings.ToUpper(k)] = fmt.Sprint(v)
		default:
			return source{}, fmt.Errorf("CONFIG_FILE %q: key %q must be a scalar", path, k)
		}
	}
	return source{file: file}, nil
}

func (s source) get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if v := strings.TrimSpace(s.file[key]); v != "" {
		return v
	}
	return def
}
