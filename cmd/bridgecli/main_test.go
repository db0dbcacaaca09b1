package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	ownerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	userKey  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	owner    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	user     = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	other    = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	var chains strings.Builder
	for _, id := range []int{1, 56} {
		fmt.Fprintf(&chains, `
  - name: chain%d
    chain_id: %d
    bridge_address: "0x9fe46736679d2d9a65f0992f2272de9f3c7fa6e0"
    owner: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    validator: "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"
    source_token: "0x5fbdb2315678afecb367f032d93f642f64180aa3"
    dest_token: "0xe7f1725e7734ce288f8367e1bb143e90bb3f0512"
    ledger: database
`, id, id)
	}
	content := fmt.Sprintf(`
storage:
  driver: sqlite
  database:
    name: %q
chains:%s`, filepath.Join(dir, "bridge.db"), chains.String())

	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSwapSignRedeem(t *testing.T) {
	require := require.New(t)
	cfg := writeConfig(t)

	out, err := run(t, "mint", "--config", cfg, "--key", ownerKey, "--chain", "1", "--amount", "100", "--to", user)
	require.NoError(err)
	require.Contains(out, "Minted 100")

	// no allowance yet
	_, err = run(t, "swap", "--config", cfg, "--key", userKey, "--chain", "1", "--amount", "10", "--to", other, "--dest-chain", "56")
	require.Error(err)

	out, err = run(t, "swap", "--config", cfg, "--key", userKey, "--chain", "1", "--amount", "10", "--to", other, "--dest-chain", "56", "--approve")
	require.NoError(err)
	require.Contains(out, "Swap initialized: nonce 1")

	out, err = run(t, "balance", "--config", cfg, "--key", userKey, "--chain", "1")
	require.NoError(err)
	require.Equal("90\n", out)

	out, err = run(t, "sign", "--config", cfg, "--key", ownerKey, "--chain", "1", "--nonce", "1")
	require.NoError(err)
	sig := regexp.MustCompile(`Signature: (0x[0-9a-f]+)`).FindStringSubmatch(out)
	require.Len(sig, 2)
	encoded := regexp.MustCompile(`Encoded: (0x[0-9a-f]+)`).FindStringSubmatch(out)
	require.Len(encoded, 2)
	digest := regexp.MustCompile(`Message: (0x[0-9a-f]+)`).FindStringSubmatch(out)
	require.Len(digest, 2)

	out, err = run(t, "decode", encoded[1])
	require.NoError(err)
	require.Contains(out, "Nonce: 1\n")
	require.Contains(out, "Source user: "+user+"\n")
	require.Contains(out, "Amount: 10\n")
	require.Contains(out, "Dest user: "+other+"\n")
	require.Contains(out, "Dest chain: 56\n")
	require.Contains(out, "Message: "+digest[1]+"\n")

	redeemArgs := []string{"redeem", "--config", cfg, "--key", userKey, "--chain", "56",
		"--nonce", "1", "--from", user, "--source-chain", "1", "--amount", "10", "--to", other, "--signature", sig[1]}

	out, err = run(t, redeemArgs...)
	require.NoError(err)
	require.Contains(out, "Redemption completed: nonce 1")

	_, err = run(t, redeemArgs...)
	require.ErrorContains(err, "already completed")

	out, err = run(t, "balance", "--config", cfg, "--key", userKey, "--chain", "56", "--side", "dest", "--address", other)
	require.NoError(err)
	require.Equal("10\n", out)
}

func TestSetValidator(t *testing.T) {
	require := require.New(t)
	cfg := writeConfig(t)

	_, err := run(t, "set-validator", "--config", cfg, "--key", userKey, "--chain", "56")
	require.Error(err)

	// defaults to the caller
	out, err := run(t, "set-validator", "--config", cfg, "--key", ownerKey, "--chain", "56", "--validator", user)
	require.NoError(err)
	require.Contains(out, user)

	out, err = run(t, "set-validator", "--config", cfg, "--key", ownerKey, "--chain", "56")
	require.NoError(err)
	require.Contains(out, owner)
}

func TestRequiresKey(t *testing.T) {
	t.Setenv(keyEnv, "")
	_, err := run(t, "balance", "--config", writeConfig(t))
	require.ErrorContains(t, err, "no key given")

	_, err = run(t, "balance", "--config", writeConfig(t), "--key", userKey, "--chain", "7")
	require.ErrorContains(t, err, "not configured")
}

func TestDecodeRejectsMalformedMessages(t *testing.T) {
	_, err := run(t, "decode", "0x1234")
	require.Error(t, err)

	_, err = run(t, "decode", "not-hex")
	require.ErrorContains(t, err, "0x prefixed hex")
}
