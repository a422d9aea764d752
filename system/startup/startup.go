package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/pinctrl"
)

// BootScript renders a script that puts every relay pin in output mode and
// drives it to its off level.
func BootScript(cfg *config.Config) string {
	var lines []string
	lines = append(lines, "#!/bin/bash", "", "# Irrigation relay configuration at boot: all pumps off", "")

	for i, z := range cfg.Zones {
		drive := pinctrl.DriveOption(cfg.Relay.ActiveHigh, false)
		lines = append(lines, fmt.Sprintf("# zone %d: %s", i, z.Name))
		lines = append(lines, fmt.Sprintf("pinctrl set %d op pn %s", z.RelayPin, drive))
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n") + "\n"
}

func WriteStartupScript(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.BootScriptFilePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(cfg.BootScriptFilePath, []byte(BootScript(cfg)), 0755)
}

func InstallStartupService(cfg *config.Config) error {
	unitContents := fmt.Sprintf(`[Unit]
Description=Force irrigation relays off at boot
After=network.target

[Service]
Type=oneshot
Environment=PATH=/usr/local/bin:/usr/bin:/bin
ExecStart=%s
RemainAfterExit=true

[Install]
WantedBy=multi-user.target
`, cfg.BootScriptFilePath)

	return os.WriteFile(cfg.OSServicePath, []byte(unitContents), 0644)
}

// InstallControllerService writes the unit for the controller daemon. It
// depends on the boot unit so relays are forced off before the daemon starts.
func InstallControllerService(cfg *config.Config, user, workdir, binary string) error {
	gpioUnitName := filepath.Base(cfg.OSServicePath)

	unit := fmt.Sprintf(`[Unit]
Description=Irrigation controller
After=%s
Requires=%s

[Service]
Type=simple
User=%s
WorkingDirectory=%s
ExecStart=%s -config-file %s -db %s
Restart=on-failure
RestartSec=5s
KillSignal=SIGTERM

[Install]
WantedBy=multi-user.target
`, gpioUnitName, gpioUnitName, user, workdir, binary, cfg.ConfigFile, cfg.DBPath)

	return os.WriteFile(cfg.MainServicePath, []byte(unit), 0644)
}

func RunStartupScript(cfg *config.Config) error {
	cmd := exec.Command("/bin/bash", cfg.BootScriptFilePath)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
