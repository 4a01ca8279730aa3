package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgconfig "github.com/marmos91/echoport/pkg/config"
)

func TestSchema(t *testing.T) {
	schema := Schema()
	require.NotNil(t, schema.Properties)

	server, ok := schema.Properties.Get("server")
	require.True(t, ok, "schema must describe the server section")
	_, ok = server.Properties.Get("pending_accepts")
	assert.True(t, ok)
	_, ok = schema.Properties.Get("controlplane")
	assert.True(t, ok)
}

func TestConfigWarnings(t *testing.T) {
	cfg := pkgconfig.GetDefaultConfig()
	assert.Empty(t, configWarnings(cfg))

	cfg.ControlPlane.Enabled = true
	cfg.Server.AcceptMode = "simple"
	cfg.Server.PendingAccepts = 4
	assert.Len(t, configWarnings(cfg), 2)
}
