package main

import (
	"os"

	"contest-rpc/log"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "contest-server",
		Short:         "Motorcycle contest RPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "explicit assign a configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log verbose")

	serve := serveCmd()
	rootCmd.AddCommand(serve, versionCmd())
	// serve is the default action
	rootCmd.RunE = serve.RunE
	rootCmd.Flags().AddFlagSet(serve.Flags())

	if err := rootCmd.Execute(); err != nil {
		log.Component("main").WithError(err).Error("contest-server failed")
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version of contest-server",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
}
