package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/gpio"
	"github.com/thatsimonsguy/irrigation-controller/internal/pinctrl"
	"github.com/thatsimonsguy/irrigation-controller/system/startup"
)

const commands = "set-zone-name, set-zone-enabled, set-sensor-enabled, set-zone-schedule, show-state, history, show-pins, write-boot-script, install-services, test-relays"

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, configPath, command, name, schedule, user, workdir, binary string
	var zone, duration, limit int
	var enabled bool
	flag.StringVar(&dbPath, "db", "data/irrigation.db", "Path to the SQLite database file")
	flag.StringVar(&configPath, "config-file", "config.yaml", "Path to controller config file")
	flag.StringVar(&command, "cmd", "", "Command to run: "+commands)
	flag.IntVar(&zone, "zone", -1, "Zone index for zone commands")
	flag.StringVar(&name, "name", "", "New zone name")
	flag.BoolVar(&enabled, "enabled", true, "Enabled flag for set-zone-enabled, set-sensor-enabled, set-zone-schedule")
	flag.StringVar(&schedule, "schedule", "", "Cron expression for set-zone-schedule")
	flag.IntVar(&duration, "duration", 0, "Watering duration in seconds for set-zone-schedule")
	flag.IntVar(&limit, "limit", 20, "Number of history entries to show")
	flag.StringVar(&user, "user", "pi", "Service user for install-services")
	flag.StringVar(&workdir, "workdir", "/home/pi/irrigation-controller", "Working directory for install-services")
	flag.StringVar(&binary, "binary", "/usr/local/bin/irrigation-controller", "Controller binary for install-services")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of irrigation-debug:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	requireZone := func() {
		if zone < 0 {
			fmt.Println("Error: -zone is required")
			os.Exit(1)
		}
	}
	loadConfig := func() config.Config {
		cfg, err := config.FromFile(configPath, dbPath)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}

	var err error
	switch command {
	case "set-zone-name":
		requireZone()
		err = db.SetZoneNameCLI(dbPath, zone, name)
	case "set-zone-enabled":
		requireZone()
		err = db.SetZoneEnabledCLI(dbPath, zone, enabled)
	case "set-sensor-enabled":
		requireZone()
		err = db.SetSensorEnabledCLI(dbPath, zone, enabled)
	case "set-zone-schedule":
		requireZone()
		err = db.SetZoneScheduleCLI(dbPath, zone, schedule, duration, enabled)
	case "show-state":
		err = db.ShowStateCLI(dbPath, os.Stdout)
	case "history":
		err = db.HistoryCLI(dbPath, zone, limit, os.Stdout)
	case "show-pins":
		cfg := loadConfig()
		err = showPins(&cfg)
	case "write-boot-script":
		cfg := loadConfig()
		err = startup.WriteStartupScript(&cfg)
	case "install-services":
		cfg := loadConfig()
		if err = startup.WriteStartupScript(&cfg); err == nil {
			if err = startup.InstallStartupService(&cfg); err == nil {
				err = startup.InstallControllerService(&cfg, user, workdir, binary)
			}
		}
	case "test-relays":
		cfg := loadConfig()
		err = testRelays(&cfg)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("Command %s completed successfully\n", command)
}

// testRelays pulses every relay for two seconds in turn. Run it with the
// daemon stopped.
func testRelays(cfg *config.Config) error {
	pins := gpio.Pins(cfg.RelayPins(), cfg.Relay.ActiveHigh)
	var relays gpio.Relays = gpio.NewPinctrlRelays(pins)
	if cfg.Relay.Backend == "gpiocdev" {
		r, err := gpio.NewCdevRelays(cfg.Relay.Chip, pins)
		if err != nil {
			return err
		}
		relays = r
	}
	defer relays.Close()

	for i, z := range cfg.Zones {
		if err := relays.Setup(i); err != nil {
			return fmt.Errorf("zone %d setup: %w", i, err)
		}
		fmt.Printf("Zone %d (%s, pin %d): on\n", i, z.Name, z.RelayPin)
		if err := relays.Set(i, true); err != nil {
			return fmt.Errorf("zone %d on: %w", i, err)
		}
		time.Sleep(2 * time.Second)
		if err := relays.Set(i, false); err != nil {
			return fmt.Errorf("zone %d off: %w", i, err)
		}
		fmt.Printf("Zone %d: off\n", i)
	}
	return nil
}

func showPins(cfg *config.Config) error {
	states, err := pinctrl.ReadPins(cfg.RelayPins())
	if err != nil {
		return err
	}
	for i, z := range cfg.Zones {
		st := states[z.RelayPin]
		relay := "ON"
		switch {
		case st.Mode != "op":
			relay = "not driven"
		case st.RelayOff(cfg.Relay.ActiveHigh):
			relay = "off"
		}
		fmt.Printf("Zone %d %-12s pin %2d  mode=%s drive=%s level=%s  relay %s\n",
			i, z.Name, z.RelayPin, st.Mode, st.Drive, st.Level, relay)
	}
	return nil
}
