// cmd/antifraud-service/main.go
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const serviceName = "antifraud-service"

var configPath string

// main 函数是应用的"组装根" (Composition Root)
func main() {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Consumes fraud check requests, decides and writes the status back with a conditional update",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a yaml config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("❌ command failed")
		os.Exit(1)
	}
}
