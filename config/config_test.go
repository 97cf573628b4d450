package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbay/client-go/core/validator"
)

type clientConfig struct {
	APIBaseURL string        `json:"api_base_url" validate:"required,url"`
	WSBaseURL  string        `json:"ws_base_url" default:"wss://ws.marketbay.io"`
	Timeout    time.Duration `json:"timeout" default:"10s"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "marketbay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return dir
}

func TestLoadAppliesDefaultsAndFile(t *testing.T) {
	dir := writeConfig(t, "api_base_url: https://api.marketbay.io\n")

	target := &clientConfig{}
	v := viper.New()
	c := New(target, WithViper(v), WithLoader(NewFileLoader("marketbay.yaml", []string{dir}, v, nil)))
	require.NoError(t, c.Load())

	assert.Equal(t, "https://api.marketbay.io", target.APIBaseURL)
	assert.Equal(t, "wss://ws.marketbay.io", target.WSBaseURL, "unset field gets its default")
	assert.Equal(t, 10*time.Second, target.Timeout)
}

func TestLoadFileOverridesDefault(t *testing.T) {
	dir := writeConfig(t, "api_base_url: https://api.marketbay.io\nws_base_url: wss://staging-ws.marketbay.io\n")

	target := &clientConfig{}
	v := viper.New()
	c := New(target, WithViper(v), WithLoader(NewFileLoader("marketbay.yaml", []string{dir}, v, nil)))
	require.NoError(t, c.Load())

	assert.Equal(t, "wss://staging-ws.marketbay.io", target.WSBaseURL)
}

func TestLoadValidationFailure(t *testing.T) {
	dir := writeConfig(t, "api_base_url: not-a-url\n")

	target := &clientConfig{}
	v := viper.New()
	c := New(target, WithViper(v), WithLoader(NewFileLoader("marketbay.yaml", []string{dir}, v, validator.New())))
	assert.Error(t, c.Load())
}

func TestLoadMissingFile(t *testing.T) {
	target := &clientConfig{}
	v := viper.New()
	c := New(target, WithViper(v), WithLoader(NewFileLoader("marketbay.yaml", []string{t.TempDir()}, v, nil)))
	assert.Error(t, c.Load())
}
