package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 34, c.MaxLength)
	assert.Equal(t, 224, c.ImageSize)
	assert.Equal(t, "pre", c.Padding)
	assert.Equal(t, "startseq", c.StartToken)
	assert.Equal(t, "endseq", c.EndToken)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
model_path = "/opt/models/decoder.onnx"
max_length = 20
padding = "post"
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/models/decoder.onnx", c.ModelPath)
	assert.Equal(t, 20, c.MaxLength)
	assert.Equal(t, "post", c.Padding)
	// untouched keys keep their defaults
	assert.Equal(t, "models/tokenizer.json", c.TokenizerPath)
	assert.Equal(t, 224, c.ImageSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("max_length = ="), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvTokenizerPath, "/tmp/vocab.txt")
	t.Setenv(EnvLibonnx, "/usr/lib/libonnxruntime.so")
	t.Setenv(EnvModelPath, "   ")

	c := Default()
	c.ApplyEnv()
	assert.Equal(t, "/tmp/vocab.txt", c.TokenizerPath)
	assert.Equal(t, "/usr/lib/libonnxruntime.so", c.Libonnx)
	assert.Equal(t, "models/model.onnx", c.ModelPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max length", func(c *Config) { c.MaxLength = 0 }},
		{"zero image size", func(c *Config) { c.ImageSize = 0 }},
		{"negative feature dim", func(c *Config) { c.FeatureDim = -1 }},
		{"bad resize mode", func(c *Config) { c.ResizeMode = "crop" }},
		{"bad padding", func(c *Config) { c.Padding = "left" }},
		{"bad truncating", func(c *Config) { c.Truncating = "middle" }},
		{"bad dtype", func(c *Config) { c.SequenceDType = "float16" }},
		{"no end token", func(c *Config) { c.EndToken = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
