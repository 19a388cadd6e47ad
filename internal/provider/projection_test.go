package provider

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectionDeterministic(t *testing.T) {
	p, err := NewProjectionProvider(ProjectionConfig{Dimension: 256})
	require.NoError(t, err)

	a, err := p.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "the quick brown fox")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 256)
}

func TestProjectionNormalized(t *testing.T) {
	p, err := NewProjectionProvider(ProjectionConfig{Dimension: 128})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "some content worth embedding")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestProjectionCaseInsensitive(t *testing.T) {
	p, err := NewProjectionProvider(ProjectionConfig{Dimension: 64})
	require.NoError(t, err)

	a, err := p.Embed(context.Background(), "Hello World")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestProjectionDistinguishesContent(t *testing.T) {
	p, err := NewProjectionProvider(ProjectionConfig{Dimension: 512})
	require.NoError(t, err)

	a, err := p.Embed(context.Background(), "cats and dogs")
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), "quarterly revenue report")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestProjectionEmptyContent(t *testing.T) {
	p, err := NewProjectionProvider(ProjectionConfig{})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "   \t\n")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestProjectionIdentity(t *testing.T) {
	p, err := NewProjectionProvider(ProjectionConfig{})
	require.NoError(t, err)

	assert.Equal(t, ProjectionName, p.Name())
	assert.Equal(t, "token-hash-v1", p.Model())
	assert.Equal(t, 1536, p.Dimension())
}
