package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/recurrence"
)

const MaxZones = 8

type Zone struct {
	Name                 string `json:"name" yaml:"name"`
	RelayPin             int    `json:"relay_pin" yaml:"relay_pin"`
	ADCChannel           int    `json:"adc_channel" yaml:"adc_channel"`
	Schedule             string `json:"schedule" yaml:"schedule"`
	WaterDurationSeconds int    `json:"water_duration_seconds" yaml:"water_duration_seconds"`
	Enabled              *bool  `json:"enabled" yaml:"enabled"`
	ScheduleEnabled      *bool  `json:"schedule_enabled" yaml:"schedule_enabled"`
	SensorEnabled        *bool  `json:"sensor_enabled" yaml:"sensor_enabled"`
}

type Relay struct {
	Backend    string `json:"backend" yaml:"backend"` // pinctrl, gpiocdev, fake
	Chip       string `json:"chip" yaml:"chip"`
	ActiveHigh bool   `json:"active_high" yaml:"active_high"`
}

type ADC struct {
	Backend          string  `json:"backend" yaml:"backend"` // ads1115, fake
	I2CBus           string  `json:"i2c_bus" yaml:"i2c_bus"`
	Address          uint16  `json:"address" yaml:"address"`
	Attempts         int     `json:"attempts" yaml:"attempts"`
	SampleDelayMs    int     `json:"sample_delay_ms" yaml:"sample_delay_ms"`
	OutlierTolerance float64 `json:"outlier_tolerance" yaml:"outlier_tolerance"`
}

type Thresholds struct {
	Air   float64 `json:"air" yaml:"air"`
	Dry   float64 `json:"dry" yaml:"dry"`
	Moist float64 `json:"moist" yaml:"moist"`
	Wet   float64 `json:"wet" yaml:"wet"`
	Water float64 `json:"water" yaml:"water"`
}

type Watering struct {
	ManualCooldownSeconds int `json:"manual_cooldown_seconds" yaml:"manual_cooldown_seconds"`
	MaxDailyManual        int `json:"max_daily_manual" yaml:"max_daily_manual"`
}

type MQTT struct {
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"client_id" yaml:"client_id"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

type Datadog struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	AgentAddr string   `json:"agent_addr" yaml:"agent_addr"`
	Namespace string   `json:"namespace" yaml:"namespace"`
	Tags      []string `json:"tags" yaml:"tags"`
}

type InfluxDB struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Token   string `json:"token" yaml:"token"`
	Org     string `json:"org" yaml:"org"`
	Bucket  string `json:"bucket" yaml:"bucket"`
}

type Config struct {
	ConfigFile string        `json:"-" yaml:"-"`
	DBPath     string        `json:"-" yaml:"-"`
	LogLevel   zerolog.Level `json:"-" yaml:"-"`

	LogFile    string `json:"log_file" yaml:"log_file"`
	ConsoleLog bool   `json:"console_log" yaml:"console_log"`
	SafeMode   bool   `json:"safe_mode" yaml:"safe_mode"`
	Timezone   string `json:"timezone" yaml:"timezone"`

	Zones    []Zone   `json:"zones" yaml:"zones"`
	Relay    Relay    `json:"relay" yaml:"relay"`
	ADC      ADC      `json:"adc" yaml:"adc"`
	Watering Watering `json:"watering" yaml:"watering"`
	Moisture struct {
		Thresholds Thresholds `json:"thresholds" yaml:"thresholds"`
	} `json:"moisture" yaml:"moisture"`

	CheckIntervalSeconds     int `json:"check_interval_seconds" yaml:"check_interval_seconds"`
	InitialCheckDelaySeconds int `json:"initial_check_delay_seconds" yaml:"initial_check_delay_seconds"`
	DailyResetPollSeconds    int `json:"daily_reset_poll_seconds" yaml:"daily_reset_poll_seconds"`
	HistoryLimit             int `json:"history_limit" yaml:"history_limit"`

	StateBackend string `json:"state_backend" yaml:"state_backend"` // sqlite, file
	StateFile    string `json:"state_file" yaml:"state_file"`

	NtfyTopic string   `json:"ntfy_topic" yaml:"ntfy_topic"`
	NtfyURL   string   `json:"ntfy_url" yaml:"ntfy_url"`
	MQTT      MQTT     `json:"mqtt" yaml:"mqtt"`
	Datadog   Datadog  `json:"datadog" yaml:"datadog"`
	InfluxDB  InfluxDB `json:"influxdb" yaml:"influxdb"`

	BootScriptFilePath string `json:"boot_script_path" yaml:"boot_script_path"`
	OSServicePath      string `json:"os_service_path" yaml:"os_service_path"`
	MainServicePath    string `json:"main_service_path" yaml:"main_service_path"`
}

func Load() Config {
	var cfg Config
	var logLevel string

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.yaml", "Path to controller config file (.yaml or .json)")
	flag.StringVar(&cfg.DBPath, "db", "data/irrigation.db", "Path to the SQLite database file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	cfg.LogLevel = parseLogLevel(logLevel)

	if err := cfg.loadFile(cfg.ConfigFile); err != nil {
		panic(err.Error())
	}
	return cfg
}

// FromFile reads, defaults and validates a config file without touching the
// command line flags.
func FromFile(path, dbPath string) (Config, error) {
	cfg := Config{ConfigFile: path, DBPath: dbPath, LogLevel: zerolog.InfoLevel}
	if err := cfg.loadFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	if err := cfg.ReadFile(path); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ReadFile decodes path into cfg, choosing YAML or JSON by extension.
func (cfg *Config) ReadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

var (
	defaultSchedules = []string{"0 8 * * *", "0 18 * * *", "0 7,19 * * *", "0 9 * * 1,3,5"}
	defaultDurations = []int{15, 12, 10, 20}
)

// DefaultSchedule returns the factory schedule and duration for a zone index.
func DefaultSchedule(zone int) (string, int) {
	if zone >= 0 && zone < len(defaultSchedules) {
		return defaultSchedules[zone], defaultDurations[zone]
	}
	return "0 8 * * *", 15
}

func (cfg *Config) applyDefaults() {
	if cfg.Relay.Backend == "" {
		cfg.Relay.Backend = "pinctrl"
	}
	if cfg.Relay.Chip == "" {
		cfg.Relay.Chip = "gpiochip0"
	}
	if cfg.ADC.Backend == "" {
		cfg.ADC.Backend = "ads1115"
	}
	if cfg.ADC.Address == 0 {
		cfg.ADC.Address = 0x48
	}
	if cfg.ADC.Attempts == 0 {
		cfg.ADC.Attempts = 5
	}
	if cfg.ADC.SampleDelayMs == 0 {
		cfg.ADC.SampleDelayMs = 50
	}
	if cfg.ADC.OutlierTolerance == 0 {
		cfg.ADC.OutlierTolerance = 3000
	}
	if cfg.Moisture.Thresholds == (Thresholds{}) {
		cfg.Moisture.Thresholds = Thresholds{Air: 27800, Dry: 19000, Moist: 13000, Wet: 5000, Water: 0}
	}
	if cfg.Watering.ManualCooldownSeconds == 0 {
		cfg.Watering.ManualCooldownSeconds = 300
	}
	if cfg.CheckIntervalSeconds == 0 {
		cfg.CheckIntervalSeconds = 900
	}
	if cfg.InitialCheckDelaySeconds == 0 {
		cfg.InitialCheckDelaySeconds = 30
	}
	if cfg.DailyResetPollSeconds == 0 {
		cfg.DailyResetPollSeconds = 60
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 1000
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = "sqlite"
	}
	if cfg.StateFile == "" {
		cfg.StateFile = "data/actuator_state.json"
	}
	if cfg.NtfyURL == "" {
		cfg.NtfyURL = "https://ntfy.sh"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "irrigation-controller"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "irrigation"
	}
	if cfg.BootScriptFilePath == "" {
		cfg.BootScriptFilePath = "/usr/local/bin/irrigation-gpio-init.sh"
	}
	if cfg.OSServicePath == "" {
		cfg.OSServicePath = "/etc/systemd/system/irrigation-gpio-init.service"
	}
	if cfg.MainServicePath == "" {
		cfg.MainServicePath = "/etc/systemd/system/irrigation-controller.service"
	}

	for i := range cfg.Zones {
		z := &cfg.Zones[i]
		if z.Name == "" {
			z.Name = fmt.Sprintf("Zone %d", i+1)
		}
		schedule, duration := DefaultSchedule(i)
		if z.Schedule == "" {
			z.Schedule = schedule
		}
		if z.WaterDurationSeconds == 0 {
			z.WaterDurationSeconds = duration
		}
		if z.Enabled == nil {
			z.Enabled = boolPtr(true)
		}
		if z.ScheduleEnabled == nil {
			z.ScheduleEnabled = boolPtr(false)
		}
		if z.SensorEnabled == nil {
			z.SensorEnabled = boolPtr(true)
		}
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func (cfg *Config) Validate() error {
	var (
		problems     []string
		usedPins     = map[int]string{}
		usedChannels = map[int]string{}
	)

	if len(cfg.Zones) == 0 || len(cfg.Zones) > MaxZones {
		problems = append(problems, fmt.Sprintf("zone count must be between 1 and %d, got %d", MaxZones, len(cfg.Zones)))
	}

	for i, z := range cfg.Zones {
		label := fmt.Sprintf("zones[%d]", i)
		if other, exists := usedPins[z.RelayPin]; exists {
			problems = append(problems, fmt.Sprintf("%s and %s both use relay pin %d", label, other, z.RelayPin))
		} else {
			usedPins[z.RelayPin] = label
		}
		if z.ADCChannel < 0 || z.ADCChannel > 3 {
			problems = append(problems, fmt.Sprintf("%s adc_channel %d out of range 0..3", label, z.ADCChannel))
		} else if other, exists := usedChannels[z.ADCChannel]; exists {
			problems = append(problems, fmt.Sprintf("%s and %s both use adc channel %d", label, other, z.ADCChannel))
		} else {
			usedChannels[z.ADCChannel] = label
		}
		if z.WaterDurationSeconds <= 0 {
			problems = append(problems, fmt.Sprintf("%s water_duration_seconds must be positive", label))
		}
		if err := recurrence.Validate(z.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("%s schedule: %v", label, err))
		}
	}

	t := cfg.Moisture.Thresholds
	if !(t.Air > t.Dry && t.Dry > t.Moist && t.Moist > t.Wet && t.Wet > t.Water) {
		problems = append(problems, "moisture thresholds must satisfy air > dry > moist > wet > water")
	}

	switch cfg.Relay.Backend {
	case "pinctrl", "gpiocdev", "fake":
	default:
		problems = append(problems, fmt.Sprintf("unknown relay backend %q", cfg.Relay.Backend))
	}
	switch cfg.ADC.Backend {
	case "ads1115", "fake":
	default:
		problems = append(problems, fmt.Sprintf("unknown adc backend %q", cfg.ADC.Backend))
	}
	switch cfg.StateBackend {
	case "sqlite", "file":
	default:
		problems = append(problems, fmt.Sprintf("unknown state backend %q", cfg.StateBackend))
	}
	if cfg.Watering.MaxDailyManual < 0 {
		problems = append(problems, "watering.max_daily_manual must not be negative")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// RelayPins returns the relay pin of every configured zone, indexed by zone.
func (cfg *Config) RelayPins() []int {
	pins := make([]int, len(cfg.Zones))
	for i, z := range cfg.Zones {
		pins[i] = z.RelayPin
	}
	return pins
}

// ADCChannels returns the ADC channel of every configured zone, indexed by zone.
func (cfg *Config) ADCChannels() []int {
	channels := make([]int, len(cfg.Zones))
	for i, z := range cfg.Zones {
		channels[i] = z.ADCChannel
	}
	return channels
}

// ZoneSettings returns the configured zones as the initial settings seeded
// into the database.
func (cfg *Config) ZoneSettings() []model.ZoneConfig {
	out := make([]model.ZoneConfig, len(cfg.Zones))
	for i, z := range cfg.Zones {
		out[i] = model.ZoneConfig{
			Index:                i,
			Name:                 z.Name,
			Enabled:              z.Enabled != nil && *z.Enabled,
			ScheduleEnabled:      z.ScheduleEnabled != nil && *z.ScheduleEnabled,
			Schedule:             z.Schedule,
			WaterDurationSeconds: z.WaterDurationSeconds,
			SensorEnabled:        z.SensorEnabled != nil && *z.SensorEnabled,
		}
	}
	return out
}
