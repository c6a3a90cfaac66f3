package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"registrar/internal/configuration/util"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigDir = "internal/static"
	ProfileEnv       = "REGISTRAR_PROFILE"
)

type LoadOptions struct {
	Dir     string
	Profile string
	EnvFile string
}

func Load() (*Properties, error) {
	return LoadFrom(LoadOptions{Dir: DefaultConfigDir, EnvFile: ".env"})
}

// LoadFrom reads application.yml, then overlays application-<profile>.yml.
// The profile comes from opts, then REGISTRAR_PROFILE, then app.profile.
func LoadFrom(opts LoadOptions) (*Properties, error) {
	if opts.Dir == "" {
		opts.Dir = DefaultConfigDir
	}

	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	cfg, err := loadBaseConfig(opts.Dir)
	if err != nil {
		return nil, err
	}

	profile := opts.Profile
	if profile == "" {
		profile = os.Getenv(ProfileEnv)
	}
	if profile == "" {
		profile = cfg.App.Profile
	}

	if profile != "" {
		if err := loadProfileConfig(opts.Dir, profile, cfg); err != nil {
			return nil, err
		}
		cfg.App.Profile = profile
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	slog.Debug("loaded env file", "path", path)
	return nil
}

func loadBaseConfig(dir string) (*Properties, error) {
	baseConfig, err := util.LoadAndExpandYaml(dir, "application")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}

	cfg := Properties{}
	if err := yaml.Unmarshal([]byte(baseConfig), &cfg); err != nil {
		return nil, fmt.Errorf("parse base config: %w", err)
	}

	return &cfg, nil
}

func loadProfileConfig(dir, profile string, cfg *Properties) error {
	profileConfig, err := util.LoadAndExpandYaml(dir, "application-"+profile)
	if err != nil {
		return fmt.Errorf("%w: profile %s: %v", ErrConfigNotFound, profile, err)
	}

	if err := yaml.Unmarshal([]byte(profileConfig), cfg); err != nil {
		return fmt.Errorf("parse profile config %s: %w", profile, err)
	}

	return nil
}
