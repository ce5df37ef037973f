package cmd

import (
	"fmt"

	"github.com/krau/visualnarrator/onnx"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the resolved configuration and model signatures",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(flags)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "model:             %s\n", cfg.ModelPath)
		fmt.Fprintf(out, "feature extractor: %s\n", cfg.FeatureExtractorPath)
		fmt.Fprintf(out, "tokenizer:         %s\n", cfg.TokenizerPath)
		fmt.Fprintf(out, "max length:        %d (padding %s, truncating %s)\n", cfg.MaxLength, cfg.Padding, cfg.Truncating)
		fmt.Fprintf(out, "image size:        %d (%s)\n", cfg.ImageSize, cfg.ResizeMode)

		if err := onnx.Init(cfg.Libonnx); err != nil {
			return err
		}
		defer onnx.Shutdown()
		for _, path := range []string{cfg.FeatureExtractorPath, cfg.ModelPath} {
			inputs, outputs, err := onnx.Describe(path)
			if err != nil {
				fmt.Fprintf(out, "\n%s: %v\n", path, err)
				continue
			}
			fmt.Fprintf(out, "\n%s\n", path)
			for _, i := range inputs {
				fmt.Fprintf(out, "  in  %s\n", i)
			}
			for _, o := range outputs {
				fmt.Fprintf(out, "  out %s\n", o)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
