package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FillsDefaults(t *testing.T) {
	opts, err := Parse([]byte(`{"url":"http://example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, opts.Port)
	assert.Equal(t, []string{"network", "console", "dom"}, opts.Telemetry)
	assert.Equal(t, DefaultMaxBodySize, opts.MaxBodySize)
}

func TestParse_PreservesExplicitValues(t *testing.T) {
	opts, err := Parse([]byte(`{"url":"http://example.com","port":1234,"telemetry":["network"],"headless":true}`))
	require.NoError(t, err)
	assert.Equal(t, 1234, opts.Port)
	assert.Equal(t, []string{"network"}, opts.Telemetry)
	assert.True(t, opts.Headless)
}

func TestParse_ExternalWSSatisfiesRequirement(t *testing.T) {
	_, err := Parse([]byte(`{"externalBrowserWsUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`))
	assert.NoError(t, err)
}

func TestParse_RequiresURLOrExternalWS(t *testing.T) {
	_, err := Parse([]byte(`{}`))
	assert.Error(t, err)
}

func TestParse_RejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)
}
