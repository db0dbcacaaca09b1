package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  listen: ":8081"
  redis_host: redis
log:
  level: debug
storage:
  driver: sqlite
observer:
  interval: 2s
chains:
  - name: Source
    chain_id: 1
    bridge_address: "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    validator: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: database
    supported_chains: [56]
  - name: Dest
    chain_id: 56
    bridge_address: "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: memory
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	require := require.New(t)
	t.Setenv("VALIDATOR_PRIVATE_KEY", "0xabc")
	t.Setenv("SERVER_REDIS_PORT", "6380")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(err)

	require.Equal(":8081", cfg.Server.Listen)
	require.Equal("redis", cfg.Server.RedisHost)
	require.Equal(6380, cfg.Server.RedisPort)
	require.Equal("0xabc", cfg.Validator.PrivateKey)
	require.Equal(2*time.Second, cfg.Observer.Interval)
	require.Equal(100, cfg.Observer.Batch)
	require.Len(cfg.Chains, 2)

	ch, ok := cfg.Chain(56)
	require.True(ok)
	require.Equal("Dest", ch.Name)
	_, ok = cfg.Chain(2)
	require.False(ok)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad address": `
chains:
  - name: A
    chain_id: 1
    bridge_address: "0x123"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: memory
`,
		"no chains": `
server:
  listen: ":8080"
`,
		"evm ledger without rpc": `
chains:
  - name: A
    chain_id: 1
    bridge_address: "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: evm
`,
		"database ledger on memory storage": `
chains:
  - name: A
    chain_id: 1
    bridge_address: "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: database
`,
		"duplicate chain": `
chains:
  - name: A
    chain_id: 1
    bridge_address: "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: memory
  - name: B
    chain_id: 1
    bridge_address: "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: memory
`,
		"unknown field": `
chains: []
fee_percentage: 1
`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestExampleConfig(t *testing.T) {
	cfg, err := Load("../config.example.yml")
	require.NoError(t, err)
	require.Equal(t, StorageSqlite, cfg.Storage.Driver)
	require.Len(t, cfg.Chains, 2)
	require.Equal(t, []uint64{56}, cfg.Chains[0].SupportedChains)
}
