package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "MTL_"

/**
 * ==========================================================================
 * ==== All variables used by the data preparation tools are loaded     ====
 * ==== here, so that a user can see what variables are exposed and how  ====
 * ==== the values are propagated through the system.                   ====
 * ==========================================================================
 */
type PrepEnv struct {
	// Root that relative dataset and output paths are resolved against.
	DataRoot string `env:"DATA_ROOT" envDefault:"."`

	JsonDir   string `env:"JSON_DIR" envDefault:"data/json"`
	RecordDir string `env:"RECORD_DIR" envDefault:"data/tf"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Prometheus textfile written when the tool exits, empty disables it.
	MetricsFile string `env:"METRICS_FILE"`

	// sqlite path or postgres:// uri of the dataset registry, empty disables
	// registration of produced bundles.
	RegistryDb string `env:"REGISTRY_DB"`
}

func LoadEnvFile(envFile string) error {
	slog.Info("loading env from file", "env_file", envFile)
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("error loading .env file '%v': %w", envFile, err)
	}
	return nil
}

func LoadPrepEnv() (*PrepEnv, error) {
	cfg := &PrepEnv{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}

type RegistryEnv struct {
	DataRoot   string `env:"DATA_ROOT" envDefault:"."`
	RegistryDb string `env:"REGISTRY_DB" envDefault:"registry.db"`
	JwtSecret  string `env:"JWT_SECRET,required,notEmpty"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile    string `env:"LOG_FILE"`
	// Allowed CORS origin for the registry api.
	IngressHostname string `env:"INGRESS_HOSTNAME" envDefault:"*"`
}

func LoadRegistryEnv() (*RegistryEnv, error) {
	cfg := &RegistryEnv{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}
