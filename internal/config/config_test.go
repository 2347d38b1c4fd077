package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadRequiresSecrets(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ENCRYPTION_KEY", "k")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("UPLOAD_DIR", dir+"/media")
	t.Setenv("GATEWAY_TIMEOUT", "5s")
	t.Setenv("CORS_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("BASE_URL", "https://api.example.com/")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 5*time.Minute, cfg.OnlineWindow)
	assert.Equal(t, 5*time.Second, cfg.CallbackWait)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, "https://api.example.com/api/payments/callback/", cfg.CallbackURL())
	assert.False(t, cfg.SimulatePayments)
	assert.Equal(t, "sqlite", cfg.DBDriver)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ENCRYPTION_KEY", "k")
	t.Setenv("UPLOAD_DIR", dir+"/media")
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load()
	assert.Error(t, err)
}
