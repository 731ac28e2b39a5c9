package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/spf13/cobra"
)

func newDataURLCmd() *cobra.Command {
	var anyType bool

	cmd := &cobra.Command{
		Use:   "dataurl <file>",
		Short: "Print a file as a base64 data URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrRead, err)
			}
			if !anyType {
				if _, err := pipeline.DetectImage(data); err != nil {
					return err
				}
			}

			url, err := pipeline.ToDataURL(cmd.Context(), bytes.NewReader(data))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), url)
			return err
		},
	}

	cmd.Flags().BoolVar(&anyType, "any", false, "Accept files that are not png, jpeg, gif or webp")
	return cmd
}
