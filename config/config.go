package config

import (
	"time"

	"mabridge/database"
)

type Configuration struct {
	// Server config
	Server struct {
		Listen        string `yaml:"listen" validate:"required"`
		UseSSL        bool   `yaml:"ssl"`
		CertFile      string `yaml:"cert_file" envconfig:"CERT_FILE"`
		KeyFile       string `yaml:"key_file" envconfig:"KEY_FILE"`
		MetricsListen string `yaml:"metrics_listen" envconfig:"METRICS_LISTEN"`
		RedisPort     int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisHost     string `yaml:"redis_host" envconfig:"REDIS_HOST"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
		// daily log files go to Dir, empty logs to stderr only
		Dir string `yaml:"dir"`
	} `yaml:"log"`
	Storage struct {
		Driver   string                  `yaml:"driver" validate:"oneof=memory redis sqlite postgres"`
		Database database.DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	} `yaml:"storage"`
	// important private stuff
	Validator struct {
		PrivateKey string `yaml:"private_key" envconfig:"PRIVATE_KEY"`
	} `yaml:"validator"`
	Observer struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval" validate:"min=0"`
		Batch    int           `yaml:"batch" validate:"min=0"`
	} `yaml:"observer"`
	Relay struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval" validate:"min=0"`
		Retries  int           `yaml:"retries" validate:"min=0"`
	} `yaml:"relay"`
	Chains []ChainConfig `yaml:"chains" validate:"required,min=1,dive"`
}

// ChainConfig describes one bridge instance hosted by this process
type ChainConfig struct {
	Name          string `yaml:"name" validate:"required"`
	ChainID       uint64 `yaml:"chain_id" validate:"required"`
	BridgeAddress string `yaml:"bridge_address" validate:"required,ethaddr"`
	Owner         string `yaml:"owner" validate:"required,ethaddr"`
	// initial validator, the stored one wins after the first start
	Validator   string `yaml:"validator" validate:"omitempty,ethaddr"`
	SourceToken string `yaml:"source_token" validate:"required,ethaddr"`
	DestToken   string `yaml:"dest_token" validate:"required,ethaddr"`
	// token ledger backend: memory, database or evm
	Ledger          string   `yaml:"ledger" validate:"oneof=memory database evm"`
	RPCList         []string `yaml:"rpc_list" validate:"required_if=Ledger evm,dive,url"`
	OperatorKey     string   `yaml:"operator_key"`
	SupportedChains []uint64 `yaml:"supported_chains"`
	GasLimit        uint64   `yaml:"gas_limit"`
	Retries         int      `yaml:"retries" validate:"min=0"`
}

const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageSqlite   = "sqlite"
	StoragePostgres = "postgres"

	LedgerMemory   = "memory"
	LedgerDatabase = "database"
	LedgerEVM      = "evm"
)

var Config Configuration

// default values applied before the file is read
func defaults(cfg *Configuration) {
	cfg.Server.Listen = ":8080"
	cfg.Server.CertFile = "certchain.pem"
	cfg.Server.KeyFile = "privatekey.pem"
	cfg.Server.MetricsListen = ":9090"
	cfg.Server.RedisHost = "localhost"
	cfg.Server.RedisPort = 6379
	cfg.Log.Level = "info"
	cfg.Storage.Driver = StorageMemory
	cfg.Observer.Enabled = true
	cfg.Observer.Interval = 10 * time.Second
	cfg.Observer.Batch = 100
	cfg.Relay.Interval = 3 * time.Second
	cfg.Relay.Retries = 3
}

// Chain returns the config of a hosted chain
func (c *Configuration) Chain(chainID uint64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}
