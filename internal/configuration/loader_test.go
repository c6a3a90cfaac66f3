package configuration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAMLDir(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name+".yml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write yaml %s", path)
}

func TestLoadFrom_success(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ProfileEnv, "")

	writeYAMLDir(t, dir, "application", "app:\n  profile: local\ntransport:\n  port: \"7001\"\n")
	writeYAMLDir(t, dir, "application-local", "raft:\n  standalone: true\n  pull-batch-size: 10\n")

	cfg, err := LoadFrom(LoadOptions{Dir: dir})

	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "local", cfg.App.Profile)
	assert.True(t, cfg.Raft.Standalone)
	assert.Equal(t, 10, cfg.Raft.PullBatchSize)
	assert.Equal(t, "127.0.0.1:7001", cfg.Transport.PeerAddr())
	assert.Equal(t, 500*time.Millisecond, cfg.Raft.TickDuration())
	assert.Equal(t, 15*time.Second, cfg.Raft.LeaderTimeoutDuration())
	assert.Equal(t, 5*time.Second, cfg.Raft.PublishTimeoutDuration())
	assert.Equal(t, uint64(100), cfg.Raft.TermIncrement)
}

func TestLoadFrom_profileOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ProfileEnv, "")

	writeYAMLDir(t, dir, "application", "app:\n  profile: a\nraft:\n  standalone: true\n")
	writeYAMLDir(t, dir, "application-a", "app:\n  log-level: warn\n")
	writeYAMLDir(t, dir, "application-b", "app:\n  log-level: debug\n")

	cfg, err := LoadFrom(LoadOptions{Dir: dir, Profile: "b"})

	require.NoError(t, err)
	assert.Equal(t, "b", cfg.App.Profile)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestLoadFrom_missingProfile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ProfileEnv, "")

	writeYAMLDir(t, dir, "application", "app:\n  profile: missing\n")

	cfg, err := LoadFrom(LoadOptions{Dir: dir})

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
	assert.Contains(t, err.Error(), "profile")
}

func TestLoadFrom_missingBaseFile(t *testing.T) {
	cfg, err := LoadFrom(LoadOptions{Dir: t.TempDir()})

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "application.yml not found")
}

func TestLoadFrom_invalidYaml(t *testing.T) {
	dir := t.TempDir()
	writeYAMLDir(t, dir, "application", "app: [unterminated\n")

	cfg, err := LoadFrom(LoadOptions{Dir: dir})

	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFrom_envFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ProfileEnv, "")
	os.Unsetenv("REGISTRAR_TEST_PORT")
	t.Cleanup(func() { os.Unsetenv("REGISTRAR_TEST_PORT") })

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("REGISTRAR_TEST_PORT=9100\n"), 0o600))

	writeYAMLDir(t, dir, "application", "transport:\n  port: ${REGISTRAR_TEST_PORT}\nraft:\n  standalone: true\n")

	cfg, err := LoadFrom(LoadOptions{Dir: dir, EnvFile: envFile})

	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Transport.Port)
}

func TestLoadFrom_missingEnvFileIgnored(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(ProfileEnv, "")
	writeYAMLDir(t, dir, "application", "raft:\n  standalone: true\n")

	_, err := LoadFrom(LoadOptions{Dir: dir, EnvFile: filepath.Join(dir, "nope.env")})

	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Properties {
		p := &Properties{}
		p.Raft.Standalone = true
		p.ApplyDefaults()
		return p
	}

	require.NoError(t, base().Validate())

	p := base()
	p.Raft.Standalone = false
	assert.ErrorIs(t, p.Validate(), ErrInvalidConfig)

	p = base()
	p.Raft.HeartbeatInterval = p.Raft.LeaderTimeout
	assert.ErrorIs(t, p.Validate(), ErrInvalidConfig)

	p = base()
	p.Transport.Port = "http"
	assert.ErrorIs(t, p.Validate(), ErrInvalidConfig)
}

func TestLoad_bundledProfiles(t *testing.T) {
	t.Setenv(ProfileEnv, "")
	dir := filepath.Join("..", "static")

	for _, profile := range []string{"standalone", "dev"} {
		cfg, err := LoadFrom(LoadOptions{Dir: dir, Profile: profile})
		require.NoError(t, err, profile)
		assert.Equal(t, profile, cfg.App.Profile)
	}
}
