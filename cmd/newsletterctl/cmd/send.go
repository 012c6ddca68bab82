package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/mailer"
	"github.com/unclebandit/newsletter-backend/internal/queue"
)

func newProcessCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process <send-id>",
		Short: "Run one processing invocation for a send",
		Long: `Run one processing invocation for a send in status sending. Deliveries
that already reached a terminal status are never dispatched again, so the
command is safe to repeat for a send that stalled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.SendService.ProcessSend(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Promote and trigger scheduled sends that are due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			// inline jobs must be consumed before the process exits
			if cfg.Trigger.Mode == config.TriggerInline {
				if err := a.Consume(cmd.Context()); err != nil {
					return err
				}
			}

			res, err := a.Scheduler.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			if q, ok := a.Queue.(*queue.InMemoryQueue); ok {
				q.Wait()
			}
			return printJSON(cmd, res)
		},
	}
}

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "preview <newsletter-id>",
		Short: "Write the email HTML a send of the newsletter would deliver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			renderer, err := mailer.NewRenderer(cfg.Email.SiteURL)
			if err != nil {
				return err
			}
			svc := app.NewSendService(conn, cfg.Send, nil, renderer, nil, nil, nil)

			html, err := svc.RenderPreview(cmd.Context(), args[0], &subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), html)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "override the stored subject")
	return cmd
}
