package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const DefaultFile = "config.toml"

type Config struct {
	Libonnx  string `toml:"libonnx" mapstructure:"libonnx"`
	LogLevel string `toml:"log_level" mapstructure:"log_level"`
	LogDir   string `toml:"log_dir" mapstructure:"log_dir"`

	ModelPath            string `toml:"model_path" mapstructure:"model_path"`
	FeatureExtractorPath string `toml:"feature_extractor_path" mapstructure:"feature_extractor_path"`
	TokenizerPath        string `toml:"tokenizer_path" mapstructure:"tokenizer_path"`

	MaxLength  int    `toml:"max_length" mapstructure:"max_length"`
	ImageSize  int    `toml:"image_size" mapstructure:"image_size"`
	ResizeMode string `toml:"resize_mode" mapstructure:"resize_mode"`
	FeatureDim int    `toml:"feature_dim" mapstructure:"feature_dim"`
	StartToken string `toml:"start_token" mapstructure:"start_token"`
	EndToken   string `toml:"end_token" mapstructure:"end_token"`
	Padding    string `toml:"padding" mapstructure:"padding"`
	Truncating string `toml:"truncating" mapstructure:"truncating"`

	// Empty values are read from the model: the sequence input dtype, and
	// the input names, which are otherwise matched by shape and order.
	SequenceDType     string `toml:"sequence_dtype" mapstructure:"sequence_dtype"`
	ImageInputName    string `toml:"image_input_name" mapstructure:"image_input_name"`
	SequenceInputName string `toml:"sequence_input_name" mapstructure:"sequence_input_name"`

	EventBuffer int `toml:"event_buffer" mapstructure:"event_buffer"`
}

// environment variables that override file values
const (
	EnvModelPath            = "VN_MODEL_PATH"
	EnvFeatureExtractorPath = "VN_FEATURE_EXTRACTOR_PATH"
	EnvTokenizerPath        = "VN_TOKENIZER_PATH"
	EnvLibonnx              = "VN_LIBONNX"
	EnvLogLevel             = "VN_LOG_LEVEL"
)

func Default() Config {
	return Config{
		LogLevel:             "info",
		ModelPath:            "models/model.onnx",
		FeatureExtractorPath: "models/feature_extractor.onnx",
		TokenizerPath:        "models/tokenizer.json",
		MaxLength:            34,
		ImageSize:            224,
		ResizeMode:           "stretch",
		StartToken:           "startseq",
		EndToken:             "endseq",
		Padding:              "pre",
		Truncating:           "pre",
		SequenceDType:        "",
		EventBuffer:          16,
	}
}

var (
	cfg      = Default()
	loadOnce sync.Once
)

func C() Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()
		if _, err := os.Stat(DefaultFile); err == nil {
			loaded, err := Load(DefaultFile)
			if err != nil {
				panic(err)
			}
			cfg = loaded
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			panic(err)
		}
	})
	return cfg
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) ApplyEnv() {
	for env, dst := range map[string]*string{
		EnvModelPath:            &c.ModelPath,
		EnvFeatureExtractorPath: &c.FeatureExtractorPath,
		EnvTokenizerPath:        &c.TokenizerPath,
		EnvLibonnx:              &c.Libonnx,
		EnvLogLevel:             &c.LogLevel,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxLength < 1 {
		errs = append(errs, fmt.Errorf("max_length must be positive, got %d", c.MaxLength))
	}
	if c.ImageSize < 1 {
		errs = append(errs, fmt.Errorf("image_size must be positive, got %d", c.ImageSize))
	}
	if c.FeatureDim < 0 {
		errs = append(errs, fmt.Errorf("feature_dim must not be negative, got %d", c.FeatureDim))
	}
	if c.ResizeMode != "stretch" && c.ResizeMode != "pad" {
		errs = append(errs, fmt.Errorf("resize_mode must be stretch or pad, got %q", c.ResizeMode))
	}
	if c.Padding != "pre" && c.Padding != "post" {
		errs = append(errs, fmt.Errorf("padding must be pre or post, got %q", c.Padding))
	}
	if c.Truncating != "pre" && c.Truncating != "post" {
		errs = append(errs, fmt.Errorf("truncating must be pre or post, got %q", c.Truncating))
	}
	switch c.SequenceDType {
	case "", "float32", "int32", "int64":
	default:
		errs = append(errs, fmt.Errorf("sequence_dtype must be float32, int32 or int64, got %q", c.SequenceDType))
	}
	if c.StartToken == "" || c.EndToken == "" {
		errs = append(errs, errors.New("start_token and end_token must be set"))
	}
	return errors.Join(errs...)
}
