package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "avatarcrop",
		Short: "Crop, normalize and upload profile avatars",
		Long: `avatarcrop turns any picked image into a 500x500 WebP avatar.

The selected region is stretched onto a white square, encoded at quality 90
and handed to the configured upload destination.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(
		newNormalizeCmd(),
		newDataURLCmd(),
		newUploadCmd(),
		newServeCmd(),
	)
	return cmd
}
