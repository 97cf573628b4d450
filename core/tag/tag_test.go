package tag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nested struct {
	Interval time.Duration `default:"30s"`
	Budget   int           `default:"3"`
}

type sample struct {
	BaseURL string   `default:"https://api.marketbay.io"`
	Debug   bool     `default:"true"`
	Factor  float64  `default:"2.0"`
	Buffer  uint     `default:"64"`
	Hosts   []string `default:"a.example.com, b.example.com"`
	Nested  nested
	NoTag   string
}

func TestApplyDefaults(t *testing.T) {
	s := &sample{}
	require.NoError(t, ApplyDefaults(s))

	assert.Equal(t, "https://api.marketbay.io", s.BaseURL)
	assert.True(t, s.Debug)
	assert.Equal(t, 2.0, s.Factor)
	assert.Equal(t, uint(64), s.Buffer)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, s.Hosts)
	assert.Equal(t, 30*time.Second, s.Nested.Interval)
	assert.Equal(t, 3, s.Nested.Budget)
	assert.Empty(t, s.NoTag)
}

func TestApplyDefaultsKeepsExisting(t *testing.T) {
	s := &sample{BaseURL: "https://staging.marketbay.io", Nested: nested{Budget: 7}}
	require.NoError(t, ApplyDefaults(s))

	assert.Equal(t, "https://staging.marketbay.io", s.BaseURL)
	assert.Equal(t, 7, s.Nested.Budget)
	assert.Equal(t, 30*time.Second, s.Nested.Interval, "untouched nested field still defaults")
}

func TestApplyDefaultsRejectsNonPointer(t *testing.T) {
	assert.ErrorIs(t, ApplyDefaults(sample{}), ErrTargetMustBePointer)
	assert.ErrorIs(t, ApplyDefaults(nil), ErrTargetMustBePointer)

	var p *sample
	assert.ErrorIs(t, ApplyDefaults(p), ErrTargetMustBePointer)
}

func TestApplyDefaultsBadValue(t *testing.T) {
	type bad struct {
		N int `default:"not-a-number"`
	}
	assert.Error(t, ApplyDefaults(&bad{}))
}
