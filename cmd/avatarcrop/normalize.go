package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/spf13/cobra"
)

type cropFlags struct {
	crop    string
	suggest string
}

func (f *cropFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.crop, "crop", "", "Crop rectangle in source pixels as x,y,width,height")
	cmd.Flags().StringVar(&f.suggest, "suggest", "", "Pick the crop automatically: center or smart")
	cmd.MarkFlagsMutuallyExclusive("crop", "suggest")
}

// resolve returns the crop to confirm with. nil means the full image.
func (f *cropFlags) resolve(cmd *cobra.Command, src pipeline.Source) (*domain.CropRect, error) {
	switch {
	case f.crop != "":
		rect, err := domain.ParseCropRect(f.crop)
		if err != nil {
			return nil, err
		}
		return &rect, nil
	case f.suggest != "":
		strategy, err := pipeline.ParseCropStrategy(f.suggest)
		if err != nil {
			return nil, err
		}
		rect, err := pipeline.SuggestCrop(cmd.Context(), src, strategy)
		if err != nil {
			return nil, err
		}
		return &rect, nil
	default:
		return nil, nil
	}
}

func newNormalizeCmd() *cobra.Command {
	var (
		output string
		crops  cropFlags
	)

	cmd := &cobra.Command{
		Use:   "normalize <source>",
		Short: "Write the 500x500 WebP for an image without uploading it",
		Long: `Decodes the source (a path, http(s) URL or data: URL), crops it, flattens
it onto white, stretches it to 500x500 and encodes it as WebP at quality 90.`,
		Example: `  avatarcrop normalize photo.jpg --crop 120,40,800,800 -o avatar.webp
  avatarcrop normalize https://example.com/me.png --suggest smart -o - > avatar.webp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "normalize")
			if err != nil {
				return err
			}
			defer a.close()

			src, err := pipeline.ParseSource(args[0], a.cfg.API.MaxSourceBytes)
			if err != nil {
				return err
			}
			crop, err := crops.resolve(cmd, src)
			if err != nil {
				return err
			}

			img, err := a.normalizer.Normalize(cmd.Context(), src, crop)
			if err != nil {
				return err
			}

			if output == "" {
				output = defaultOutputPath(args[0])
			}
			if err := writeOutput(cmd.OutOrStdout(), output, img.Data); err != nil {
				return err
			}
			a.logger.Info("normalized", "source", src.Describe(), "bytes", img.Size(), "output", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", `Output file, "-" for stdout (default <source>.webp)`)
	crops.register(cmd)
	return cmd
}

func defaultOutputPath(source string) string {
	if strings.Contains(source, "://") || strings.HasPrefix(source, "data:") {
		return domain.OutputFilename
	}
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".webp"
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}
