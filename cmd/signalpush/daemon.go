package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.signalpush.relay"
	systemdUnit  = "signalpush.service"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install signalpush as a background service (launchd/systemd)",
		Long:  "Generates and installs a user service file that runs 'signalpush run' on login and restarts it on failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}

			switch runtime.GOOS {
			case "darwin":
				path := launchdPath(home)
				return writeService(cmd, path, renderLaunchd(execPath, cfgPath, home),
					"launchctl load "+path, "launchctl unload "+path)
			case "linux":
				return writeService(cmd, systemdPath(home), renderSystemd(execPath, cfgPath),
					"systemctl --user enable --now "+systemdUnit, "systemctl --user stop "+systemdUnit)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the signalpush background service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			var path string
			switch runtime.GOOS {
			case "darwin":
				path = launchdPath(home)
			case "linux":
				path = systemdPath(home)
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service uninstalled: %s\n", path)
			return nil
		},
	}
}

func launchdPath(home string) string {
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func systemdPath(home string) string {
	return filepath.Join(home, ".config", "systemd", "user", systemdUnit)
}

func writeService(cmd *cobra.Command, path, content, start, stop string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Service installed: %s\n", path)
	fmt.Fprintf(out, "To start: %s\n", start)
	fmt.Fprintf(out, "To stop:  %s\n", stop)
	return nil
}

func renderLaunchd(execPath, cfgPath, home string) string {
	logDir := filepath.Join(home, ".signalpush", "logs")
	os.MkdirAll(logDir, 0o755)
	return strings.NewReplacer(
		"{{LABEL}}", launchdLabel,
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{LOG}}", filepath.Join(logDir, "signalpush.log"),
		"{{ERR_LOG}}", filepath.Join(logDir, "signalpush-error.log"),
	).Replace(launchdTemplate)
}

func renderSystemd(execPath, cfgPath string) string {
	return strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath).Replace(systemdTemplate)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=signalpush trading signal relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
