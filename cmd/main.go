package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"chatbridge/handler"
	"chatbridge/internal/httpapi"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("chatbridge failed", "err", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		envFiles   []string
	)
	root := &cobra.Command{
		Use:           "chatbridge",
		Short:         "Relay chat turns to an automation webhook and persist threads",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CHATBRIDGE_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files to load before reading the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve widgets over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, configPath, envFiles)
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := httpapi.NewServer(a.cfg.HTTPAddr, a.doc,
				httpapi.WithLogger(a.logger),
				httpapi.WithGatherer(a.registry),
			)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function behind API Gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), configPath, envFiles)
			if err != nil {
				return err
			}
			// lambda.Start never returns; the store is released with the process.
			h, err := handler.NewHandler(a.widget.Container().Chat, handler.WithLogger(a.logger))
			if err != nil {
				a.close()
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	})

	return root
}
