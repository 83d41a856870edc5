package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromProfile(t *testing.T) {
	models := Models{Small: "small-model", Large: "large-model"}

	p, err := NewFromProfile("openai", "sk-test", models)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = NewFromProfile("anthropic", "sk-ant-test", models)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = NewFromProfile("gemini", "key", models)
	require.Error(t, err)
}

func TestModels_Resolve(t *testing.T) {
	models := Models{Small: "small-model", Large: "large-model"}
	assert.Equal(t, "small-model", models.resolve(TierSmall))
	assert.Equal(t, "large-model", models.resolve(TierLarge))
	// Unknown tiers fall back to the small model.
	assert.Equal(t, "small-model", models.resolve(Tier("")))
}
