package main

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"signalpush/internal/channel"
	"signalpush/internal/domain"
)

const systemSource = "system"

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the AI provider answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.AI.CallTimeoutSeconds)*time.Second)
			defer cancel()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.shutdown()

			if a.pipeline.Verify(ctx) {
				fmt.Fprintln(cmd.OutOrStdout(), "AI extraction ready")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "AI extraction unavailable, messages will use heuristic fallback")
			return nil
		},
	}
}

func extractCmd() *cobra.Command {
	var (
		text  string
		image string
		send  bool
	)
	cmd := &cobra.Command{
		Use:   "extract [text]",
		Short: "Extract a signal from text or a chart image and print the alert",
		Example: `  signalpush extract "XAUUSD SELL 2650 SL 2660 TP 2630"
  signalpush extract --image chart.png --text "gold idea" --send`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				text = args[0]
			}
			if strings.TrimSpace(text) == "" && image == "" {
				return fmt.Errorf("provide text or --image")
			}
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.shutdown()

			msg := cliMessage(text, image)
			res := a.pipeline.ExtractDetailed(ctx, msg)

			out, _ := json.MarshalIndent(map[string]any{
				"path":     res.Path,
				"fallback": res.Fallback,
				"alert":    res.Alert,
			}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !send {
				return nil
			}
			outcome := a.dispatcher.Dispatch(ctx, res.Alert, msg)
			fmt.Fprintf(cmd.OutOrStdout(), "delivery: %s\n", outcome)
			a.drain(ctx)
			if outcome != domain.Delivered {
				return fmt.Errorf("delivery failed: %s", outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&image, "image", "", "path to a chart image")
	cmd.Flags().BoolVar(&send, "send", false, "also dispatch the alert")
	return cmd
}

// cliMessage builds a message as a chat source would for local input.
func cliMessage(text, image string) domain.NormalizedMessage {
	msg := domain.NormalizedMessage{
		ID:         uuid.NewString(),
		Source:     "cli",
		ChatID:     "local",
		ChatTitle:  "Command line",
		SenderName: "operator",
		Timestamp:  time.Now(),
		Text:       strings.TrimSpace(text),
	}
	if image != "" {
		msg.HasMedia = true
		msg.MediaType = channel.MediaTypeFromMIME(mime.TypeByExtension(strings.ToLower(filepath.Ext(image))))
		msg.MediaRef = image
	}
	return msg
}

func notifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send test or urgent notifications",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Send a test notification through the configured backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			alert := domain.FormattedAlert{
				Title:    "signalpush test",
				Body:     fmt.Sprintf("Test notification sent at %s. If you can read this, push delivery works.", time.Now().Format("15:04:05")),
				Severity: domain.SeverityNormal,
			}
			return sendSystemAlert(cmd, alert)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "urgent [title] [message]",
		Short: "Send an urgent system alert with follow-ups",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendSystemAlert(cmd, domain.FormattedAlert{Title: args[0], Body: args[1], Severity: domain.SeverityUrgent})
		},
	})

	return cmd
}

func sendSystemAlert(cmd *cobra.Command, alert domain.FormattedAlert) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.shutdown()

	if alert.Severity == domain.SeverityUrgent {
		alert = a.formatter.SystemAlert(alert.Title, alert.Body)
	}
	msg := domain.NormalizedMessage{
		ID:         uuid.NewString(),
		Source:     systemSource,
		ChatID:     systemSource,
		ChatTitle:  "signalpush",
		SenderName: "signalpush",
		Timestamp:  time.Now(),
		Text:       alert.Body,
	}
	alert.SourceMessage = msg.ID

	outcome := a.dispatcher.Dispatch(ctx, alert, msg)
	fmt.Fprintf(cmd.OutOrStdout(), "delivery: %s\n", outcome)
	if outcome == domain.ConfigError {
		for _, p := range a.dispatcher.ValidateConfig() {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", p)
		}
	}
	if n := a.dispatcher.FollowupCount(); n > 0 && outcome == domain.Delivered && !cfg.Notifications.DryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "waiting for %d follow-ups...\n", n)
		a.drain(ctx)
	}
	if outcome != domain.Delivered {
		return fmt.Errorf("delivery failed: %s", outcome)
	}
	return nil
}
