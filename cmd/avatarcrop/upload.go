package main

import (
	"fmt"

	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/dunamismax/avatarcrop/internal/upload"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var (
		backend string
		crops   cropFlags
	)

	cmd := &cobra.Command{
		Use:   "upload <source>",
		Short: "Normalize an image and upload it as the profile avatar",
		Long: `Runs one full session: load, crop, normalize and upload. On success the
URL is printed, recorded as the profile's current avatar and announced on
the configured webhook.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "upload")
			if err != nil {
				return err
			}
			defer a.close()

			upCfg := a.cfg.UploadConfig()
			if backend != "" {
				upCfg.Backend = backend
			}
			uploader, err := upload.New(cmd.Context(), upCfg)
			if err != nil {
				return err
			}

			src, err := pipeline.ParseSource(args[0], a.cfg.API.MaxSourceBytes)
			if err != nil {
				return err
			}
			crop, err := crops.resolve(cmd, src)
			if err != nil {
				return err
			}

			sess := a.newSession(uploader)
			defer sess.Reset()

			if err := sess.LoadSource(src); err != nil {
				return err
			}
			if crop != nil {
				if err := sess.ReportCrop(*crop); err != nil {
					return err
				}
			}
			if _, err := sess.ConfirmCrop(cmd.Context()); err != nil {
				return err
			}
			result, err := sess.Upload(cmd.Context())
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), result.URL)
			return err
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "Override UPLOAD_BACKEND (local, s3, oss, http)")
	crops.register(cmd)
	return cmd
}
