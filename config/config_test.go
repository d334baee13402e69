package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"API_BASE_URL", "PRINTER_BRIDGE_URL", "ORDERING_CONFIG", "GRACE_PERIOD_SECONDS", "CORS_ALLOWED_ORIGINS", "DB_DRIVER", "GIN_MODE"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, DefaultPrinterBridgeURL, cfg.PrinterBridgeURL)
	assert.Equal(t, 60, cfg.Ordering.GracePeriodSeconds)
	assert.Equal(t, 30*time.Second, cfg.Ordering.StaffPollInterval)
	assert.Equal(t, 5*time.Second, cfg.Ordering.TablePollInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 30*time.Minute, cfg.Ordering.FlowIdleTTL)
}

func TestLoad_EnvAndOrderingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ordering.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
grace_period_seconds: 90
table_poll_interval: 2s
deactivate_recheck: false
stations:
  - name: kitchen
    printer_ip: 192.168.1.40
    language: tr
  - name: wok
    printer_ip: 192.168.1.41
    language: zh
`), 0o600))

	t.Setenv("ORDERING_CONFIG", file)
	t.Setenv("API_BASE_URL", "http://backend.local/api")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.app, https://b.app")
	t.Setenv("GRACE_PERIOD_SECONDS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://backend.local/api", cfg.APIBaseURL)
	assert.Equal(t, 90, cfg.Ordering.GracePeriodSeconds)
	assert.Equal(t, 2*time.Second, cfg.Ordering.TablePollInterval)
	assert.Equal(t, 30*time.Second, cfg.Ordering.StaffPollInterval, "absent fields keep defaults")
	assert.False(t, cfg.Ordering.DeactivateRecheck)
	require.Len(t, cfg.Ordering.Stations, 2)
	assert.Equal(t, "192.168.1.41", cfg.Ordering.Stations[1].PrinterIP)
	assert.Equal(t, []string{"https://a.app", "https://b.app"}, cfg.AllowedOrigins)

	t.Setenv("GRACE_PERIOD_SECONDS", "30")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Ordering.GracePeriodSeconds, "env overrides the file")
}

func TestLoad_Rejections(t *testing.T) {
	t.Setenv("ORDERING_CONFIG", "")

	t.Setenv("GRACE_PERIOD_SECONDS", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("GRACE_PERIOD_SECONDS", "")
	t.Setenv("DB_DRIVER", "postgres")
	_, err = Load()
	assert.ErrorContains(t, err, "unsupported DB_DRIVER")

	t.Setenv("DB_DRIVER", "")
	t.Setenv("ORDERING_CONFIG", "/does/not/exist.yaml")
	_, err = Load()
	assert.ErrorContains(t, err, "read ordering config")

	t.Setenv("ORDERING_CONFIG", "")
	t.Setenv("GIN_MODE", "release")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	assert.ErrorContains(t, err, "JWT_SECRET is required")

	t.Setenv("JWT_SECRET", "prod-secret")
	_, err = Load()
	assert.NoError(t, err)
}

func TestConfig_SessionKeySecret(t *testing.T) {
	cfg := &Config{JWTSecret: "jwt"}
	assert.Equal(t, []byte("jwt"), cfg.SessionKeySecret())

	cfg.SessionSecret = "tables"
	assert.Equal(t, []byte("tables"), cfg.SessionKeySecret())

	assert.NotEmpty(t, (&Config{}).SessionKeySecret())
}

func TestInitDB_SQLite(t *testing.T) {
	cfg := &Config{DBDriver: "sqlite", DBDSN: "file::memory:"}
	db, err := InitDB(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	sqlDB.Close()
}
