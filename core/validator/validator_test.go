package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endpointConfig struct {
	BaseURL string `validate:"required,url"`
	Timeout int    `validate:"gte=1,lte=60"`
}

func TestStructValid(t *testing.T) {
	v := New()
	err := v.Struct(&endpointConfig{BaseURL: "https://api.marketbay.io", Timeout: 10})
	assert.NoError(t, err)
}

func TestStructInvalid(t *testing.T) {
	v := New()
	err := v.Struct(&endpointConfig{BaseURL: "not a url", Timeout: 0})
	require.Error(t, err)

	var fe FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Has("BaseURL"))
	assert.True(t, fe.Has("Timeout"))
	assert.False(t, fe.Has("Missing"))
	assert.NotEmpty(t, fe.Error())
}

func TestStructNil(t *testing.T) {
	v := New()
	assert.Error(t, v.Struct(nil))
	assert.Error(t, v.StructCtx(context.Background(), nil))
}

func TestGlobalValidator(t *testing.T) {
	require.NotNil(t, Validate)
	assert.NotNil(t, Validate.GetValidator())
}
