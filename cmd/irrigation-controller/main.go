package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/adc"
	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/datadog"
	"github.com/thatsimonsguy/irrigation-controller/internal/gpio"
	"github.com/thatsimonsguy/irrigation-controller/internal/influxdb"
	"github.com/thatsimonsguy/irrigation-controller/internal/irrigation"
	"github.com/thatsimonsguy/irrigation-controller/internal/logging"
	"github.com/thatsimonsguy/irrigation-controller/internal/notifications"
	"github.com/thatsimonsguy/irrigation-controller/internal/store"
	"github.com/thatsimonsguy/irrigation-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile, cfg.ConsoleLog)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("db", cfg.DBPath).
		Int("zones", len(cfg.Zones)).
		Msg("Starting irrigation controller")

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer conn.Close()
	if err := db.SeedZones(conn, cfg.ZoneSettings()); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed zone settings")
	}
	st := db.NewStore(conn, cfg.HistoryLimit)

	notifier := newNotifier(&cfg)

	relays, err := newRelays(&cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Relay.Backend).Msg("Failed to open relay board")
	}

	reader, err := newADC(&cfg)
	if err != nil {
		log.Error().Err(err).Str("backend", cfg.ADC.Backend).Msg("ADC unavailable, moisture readings will report errors")
		notifier.Notify(notifications.Event{
			Kind:    notifications.KindError,
			Zone:    notifications.NoZone,
			Title:   "Moisture sensors unavailable",
			Message: err.Error(),
		})
		reader = nil
	}

	opts, err := irrigation.OptionsFromConfig(&cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	deps := irrigation.Deps{
		Store:     st,
		Relays:    relays,
		Notifier:  notifier,
		Recorders: newRecorders(&cfg),
	}
	if reader != nil {
		deps.ADC = reader
	}
	if cfg.StateBackend == "file" {
		deps.States = store.New(cfg.StateFile)
	}

	sys := irrigation.New(opts, deps)
	if err := sys.Start(context.Background()); err != nil {
		shutdown.ShutdownWithError(sys, err, "Failed to start irrigation system")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig == syscall.SIGHUP {
			log.Info().Msg("SIGHUP received, reloading schedules")
			if err := sys.RestartAllSchedules(); err != nil {
				log.Error().Err(err).Msg("Failed to reload schedules")
			}
			continue
		}
		log.Info().Str("signal", sig.String()).Msg("Shutdown requested")
		shutdown.Shutdown(sys)
	}
}

func newRelays(cfg *config.Config) (gpio.Relays, error) {
	pins := gpio.Pins(cfg.RelayPins(), cfg.Relay.ActiveHigh)
	if cfg.SafeMode {
		return gpio.NewSafeMode(pins), nil
	}
	switch cfg.Relay.Backend {
	case "pinctrl":
		return gpio.NewPinctrlRelays(pins), nil
	case "gpiocdev":
		return gpio.NewCdevRelays(cfg.Relay.Chip, pins)
	case "fake":
		return gpio.NewFake(len(pins)), nil
	default:
		return nil, fmt.Errorf("unknown relay backend %q", cfg.Relay.Backend)
	}
}

// newADC returns a nil Reader and an error when the converter cannot be opened.
func newADC(cfg *config.Config) (adc.Reader, error) {
	switch cfg.ADC.Backend {
	case "ads1115":
		a, err := adc.OpenADS1115(cfg.ADC.I2CBus, cfg.ADC.Address)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "fake":
		return adc.NewFake(cfg.Moisture.Thresholds.Moist), nil
	default:
		return nil, fmt.Errorf("unknown adc backend %q", cfg.ADC.Backend)
	}
}

func newNotifier(cfg *config.Config) notifications.Notifier {
	var sinks []notifications.Sink
	if cfg.NtfyTopic != "" {
		sinks = append(sinks, notifications.NewNtfySink(cfg.NtfyURL, cfg.NtfyTopic))
	}
	if cfg.MQTT.Broker != "" {
		pub, err := notifications.NewPahoPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			log.Error().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT unavailable, events will not be published")
		} else {
			sinks = append(sinks, notifications.NewMQTTSink(pub, cfg.MQTT.TopicPrefix))
		}
	}
	if len(sinks) == 0 {
		log.Info().Msg("No notification sinks configured")
		return notifications.Nop{}
	}
	return notifications.NewDispatcher(64, sinks...)
}

func newRecorders(cfg *config.Config) []irrigation.Recorder {
	var recorders []irrigation.Recorder
	if m := datadog.New(cfg.Datadog); m != nil {
		recorders = append(recorders, m)
	}
	w, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case err == nil:
		recorders = append(recorders, w)
	case errors.Is(err, influxdb.ErrDisabled):
	default:
		log.Error().Err(err).Str("url", cfg.InfluxDB.URL).Msg("InfluxDB unavailable, telemetry disabled")
	}
	return recorders
}
