package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nikatrade/referrald/internal/config"
	"github.com/nikatrade/referrald/internal/di"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long:  `Open the database, initialize the schema if needed, and serve the referral API until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if path := cfg.ConfigPath(); path != "" {
			log.Printf("loaded configuration from %s", path)
		} else {
			log.Printf("running on default configuration")
		}

		app, err := di.NewApp(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Start(ctx)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			log.Printf("shutting down")
		}

		return app.Stop(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
