package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"signalpush/internal/config"
	"signalpush/internal/ledger"
	"signalpush/internal/notify"
	"signalpush/internal/provider"
)

type checkCounts struct {
	passed, warned, failed int
	out                    io.Writer
}

func (c *checkCounts) pass(check, detail string) {
	fmt.Fprintf(c.out, "  [PASS] %-24s %s\n", check, detail)
	c.passed++
}

func (c *checkCounts) fail(check, detail string) {
	fmt.Fprintf(c.out, "  [FAIL] %-24s %s\n", check, detail)
	c.failed++
}

func (c *checkCounts) warn(check, detail string) {
	fmt.Fprintf(c.out, "  [WARN] %-24s %s\n", check, detail)
	c.warned++
}

func doctorCmd() *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your signalpush installation",
		Long: `Verifies that the configuration, AI provider, notification backends and
media directory are correctly set up. Reports pass/fail for each check.
With --live the AI provider is called once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfgPath := resolveConfigPath()
			fmt.Fprintf(out, "signalpush doctor v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			c := &checkCounts{out: out}

			if _, err := os.Stat(cfgPath); err != nil {
				c.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Fprintf(out, "\nRun 'signalpush init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			c.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				return summarize(c)
			}
			c.pass("Config validation", "valid")

			ctx := cmd.Context()
			checkMediaDir(c, cfg.General.MediaDir)
			checkLogFile(c, cfg.General.LogFile)
			checkProvider(ctx, c, cfg, live)
			checkBackends(c, cfg)
			checkSources(c, cfg)
			checkLedger(ctx, c)

			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					c.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					c.pass("Metrics listen", cfg.Metrics.Listen+" available")
				}
			}
			if cfg.Notifications.DryRun {
				c.warn("Dry run", "enabled, notifications are only logged")
			}

			return summarize(c)
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "call the AI provider once")
	return cmd
}

func summarize(c *checkCounts) error {
	fmt.Fprintf(c.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(c.out, "Results: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
	if c.failed > 0 {
		fmt.Fprintf(c.out, "\nPlease fix the failed checks before running signalpush.\n")
		return fmt.Errorf("%d check(s) failed", c.failed)
	}
	if c.warned > 0 {
		fmt.Fprintf(c.out, "\nsignalpush should work but consider fixing the warnings.\n")
	} else {
		fmt.Fprintf(c.out, "\nAll checks passed! signalpush is ready to run.\n")
	}
	return nil
}

func checkMediaDir(c *checkCounts, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.fail("Media directory", fmt.Sprintf("cannot create %s: %v", dir, err))
		return
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		c.fail("Media directory", fmt.Sprintf("not writable: %v", err))
		return
	}
	probe.Close()
	os.Remove(probe.Name())
	c.pass("Media directory", dir)
}

func checkLogFile(c *checkCounts, path string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		return
	}
	c.pass("Log file", path)
}

func checkProvider(ctx context.Context, c *checkCounts, cfg *config.Config, live bool) {
	if !cfg.AI.Enabled {
		c.warn("AI provider", "disabled, heuristic extraction only")
		return
	}
	prov, err := provider.NewFactory(cfg.AI, zap.NewNop()).Build(ctx)
	if err != nil {
		c.warn("AI provider", fmt.Sprintf("unavailable (%v), heuristic extraction only", err))
		return
	}
	detail := prov.Name()
	if prov.SupportsVision() {
		detail += " (text + vision)"
	}
	if !live {
		c.pass("AI provider", detail)
		return
	}
	hctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.AI.CallTimeoutSeconds)*time.Second)
	defer cancel()
	if err := prov.Healthy(hctx); err != nil {
		c.fail("AI provider", fmt.Sprintf("%s: %v", prov.Name(), err))
		return
	}
	c.pass("AI provider", detail+" answered")
}

func checkBackends(c *checkCounts, cfg *config.Config) {
	n := cfg.Notifications
	names := append([]string{n.Primary}, n.Secondary...)
	for i, name := range names {
		label := "Push: " + name
		if i == 0 {
			label += " (primary)"
		}
		b, err := notify.NewBackend(name, n, zap.NewNop())
		if err != nil {
			c.fail(label, err.Error())
			continue
		}
		problems := b.Validate()
		switch {
		case len(problems) == 0:
			detail := "configured"
			if f, ok := b.(*notify.FCM); ok {
				info := f.DeviceInfo()
				detail = fmt.Sprintf("mode %s, device %s", info.Mode, info.DeviceToken)
			}
			c.pass(label, detail)
		case i == 0:
			for _, p := range problems {
				c.fail(label, p)
			}
		default:
			for _, p := range problems {
				c.warn(label, p)
			}
		}
	}
}

func checkSources(c *checkCounts, cfg *config.Config) {
	s := cfg.Sources
	enabled := 0
	if s.Telegram.Enabled {
		enabled++
		if s.Telegram.Token == "" {
			c.fail("Source: telegram", "enabled but no bot token")
		} else {
			c.pass("Source: telegram", fmt.Sprintf("token %s, %d allowed chats", config.MaskSecret(s.Telegram.Token), len(s.Telegram.AllowChats)))
		}
	}
	if s.Discord.Enabled {
		enabled++
		if s.Discord.Token == "" {
			c.fail("Source: discord", "enabled but no bot token")
		} else {
			c.pass("Source: discord", fmt.Sprintf("token %s, %d allowed channels", config.MaskSecret(s.Discord.Token), len(s.Discord.AllowChannels)))
		}
	}
	if enabled == 0 {
		c.warn("Sources", "no chat sources enabled")
	}
}

func checkLedger(ctx context.Context, c *checkCounts) {
	store, err := ledger.Open(zap.NewNop())
	if err != nil {
		c.fail("Delivery ledger", err.Error())
		return
	}
	defer store.Close()
	if _, err := store.Stats(ctx); err != nil {
		c.fail("Delivery ledger", err.Error())
		return
	}
	c.pass("Delivery ledger", "in-memory sqlite ok")
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
