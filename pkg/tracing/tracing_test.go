package tracing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfig_Sampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", Config{SampleRate: 1}.Sampler().Description())
	assert.Equal(t, "AlwaysOffSampler", Config{SampleRate: 0}.Sampler().Description())
	assert.True(t, strings.HasPrefix(Config{SampleRate: 0.25}.Sampler().Description(), "ParentBased"))
}

func TestTracer_ReturnsTracer(t *testing.T) {
	_, span := Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.NotNil(t, span)
}
