package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/krau/visualnarrator/config"
	"github.com/krau/visualnarrator/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type overrides struct {
	configFile       string
	model            string
	tokenizer        string
	featureExtractor string
	libonnx          string
	logLevel         string
}

var flags overrides

var rootCmd = &cobra.Command{
	Use:           "visualnarrator",
	Short:         "Describe images with a pre-trained captioning model",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	addOverrideFlags(rootCmd.PersistentFlags(), &flags)
}

func addOverrideFlags(fs *pflag.FlagSet, o *overrides) {
	fs.StringVarP(&o.configFile, "config", "c", "", "config file (default ./"+config.DefaultFile+" if present)")
	fs.StringVar(&o.model, "model", "", "sequence model ONNX file")
	fs.StringVar(&o.tokenizer, "tokenizer", "", "tokenizer JSON or vocabulary file")
	fs.StringVar(&o.featureExtractor, "feature-extractor", "", "feature extractor ONNX file")
	fs.StringVar(&o.libonnx, "libonnx", "", "ONNX Runtime shared library")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
}

// resolveConfig layers flags over the config file and environment.
func resolveConfig(o overrides) (config.Config, error) {
	var cfg config.Config
	if o.configFile != "" {
		loaded, err := config.Load(o.configFile)
		if err != nil {
			return cfg, err
		}
		loaded.ApplyEnv()
		cfg = loaded
	} else {
		cfg = config.C()
	}
	for _, f := range []struct {
		val string
		dst *string
	}{
		{o.model, &cfg.ModelPath},
		{o.tokenizer, &cfg.TokenizerPath},
		{o.featureExtractor, &cfg.FeatureExtractorPath},
		{o.libonnx, &cfg.Libonnx},
		{o.logLevel, &cfg.LogLevel},
	} {
		if f.val != "" {
			*f.dst = f.val
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) (func() error, error) {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.LogLevel)
	lc.Dir = cfg.LogDir
	_, closeFn, err := logging.Setup(lc)
	return closeFn, err
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", slog.String("error", err.Error()))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
