package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Calculation.Bounds.ArtLowerLimit1)
	assert.Equal(t, 15, cfg.Calculation.Bounds.ArtUpperLimit2)
	assert.Equal(t, 856, cfg.Metadata.HivViralLoadConcept.ID)
	assert.Len(t, cfg.Metadata.RegimenLineChangeCodes, 11)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: 9090
  request_timeout: 45s
database:
  host: db.internal
  name: epts
calculation:
  workers: 2
  bounds:
    months_on_art: 3
metadata:
  lab_encounter_type:
    uuid: e2790f68-1d5f-11e0-b929-000c29ad1d07
  regimen_line_change_codes: [6108, 6109]
`)
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "openmrs", cfg.Database.User)
	assert.Equal(t, 2, cfg.Calculation.Workers)
	assert.Equal(t, 3, cfg.Calculation.Bounds.MonthsOnArt)
	assert.Equal(t, 9, cfg.Calculation.Bounds.ArtUpperLimit1)
	assert.Equal(t, "e2790f68-1d5f-11e0-b929-000c29ad1d07", cfg.Metadata.LabEncounterType.UUID)
	assert.Equal(t, []int{6108, 6109}, cfg.Metadata.RegimenLineChangeCodes)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("EPTS_DATABASE_HOST", "from-env")
	t.Setenv("EPTS_DATABASE_MAX_OPEN_CONNS", "42")
	t.Setenv("EPTS_AUTH_ENABLED", "true")
	t.Setenv("EPTS_AUTH_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Host)
	assert.Equal(t, 42, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadConfigValidation(t *testing.T) {
	dir := writeConfig(t, `
auth:
  enabled: true
`)
	_, err := LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")

	dir = writeConfig(t, `
calculation:
  bounds:
    art_lower_limit_1: 10
    art_upper_limit_1: 9
`)
	_, err = LoadConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calculation.bounds.art_upper_limit_1")
}

func TestDSN(t *testing.T) {
	dsn := Default().Database.DSN()
	assert.Equal(t, "host=localhost port=5432 user=openmrs password= dbname=openmrs sslmode=disable", dsn)
}
