package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "portal",
		Short:         "Patient portal access gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(auditConsumerCmd())
	rootCmd.AddCommand(createDoctorCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
