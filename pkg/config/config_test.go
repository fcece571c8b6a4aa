package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.toml")
	body := `
MinimumWeightMag = 14
ExpectedPort = 15600
HeartbeatInterval = "1m"

[TipSelect]
C1 = 4
C2 = 6
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.EqualValues(t, 14, cfg.MinimumWeightMag)
	require.EqualValues(t, 15600, cfg.ExpectedPort)
	require.Equal(t, time.Minute, cfg.HeartbeatInterval)
	require.Equal(t, 4, cfg.TipSelect.C1)
	require.Equal(t, 6, cfg.TipSelect.C2)

	// Fields absent from the file keep their Default() values.
	require.Equal(t, Default().RequestRetryPeriod, cfg.RequestRetryPeriod)
	require.Equal(t, Default().MalformedThreshold, cfg.MalformedThreshold)
}

func TestLoadReturnsDefaultsAndErrorWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.Equal(t, Default(), cfg)
}
