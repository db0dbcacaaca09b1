package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

const DefaultPath = "config.yml"

// reading config error is fatal, and exists main thread
func processError(err error) {
	fmt.Println(err)
	os.Exit(2)
}

func readFile(path string, cfg *Configuration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("error decoding %s: %w", path, err)
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	// a missing .env is fine, the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error loading .env: %w", err)
	}
	return envconfig.Process("", cfg)
}

func newValidate() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("ethaddr", func(fl validator.FieldLevel) bool {
		return ethav.Validate(fl.Field().String()) == nil
	})
	return validate
}

func Validate(cfg *Configuration) error {
	if err := newValidate().Struct(cfg); err != nil {
		return err
	}

	seen := make(map[uint64]bool, len(cfg.Chains))
	for _, ch := range cfg.Chains {
		if seen[ch.ChainID] {
			return fmt.Errorf("chain %d configured twice", ch.ChainID)
		}
		seen[ch.ChainID] = true

		if ch.Ledger == LedgerDatabase && cfg.Storage.Driver != StorageSqlite && cfg.Storage.Driver != StoragePostgres {
			return fmt.Errorf("chain %d: database ledger needs sqlite or postgres storage", ch.ChainID)
		}
	}
	return nil
}

// Load reads path, overlays the environment and validates the result
func Load(path string) (Configuration, error) {
	var cfg Configuration
	defaults(&cfg)

	if err := readFile(path, &cfg); err != nil {
		return Configuration{}, err
	}
	if err := readEnv(&cfg); err != nil {
		return Configuration{}, err
	}
	if err := Validate(&cfg); err != nil {
		return Configuration{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func Init(path string) {
	cfg, err := Load(path)
	if err != nil {
		processError(err)
	}
	Config = cfg
}
