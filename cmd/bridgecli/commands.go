package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"mabridge/bridge"
	"mabridge/codec"
	"mabridge/config"
	"mabridge/logger"
	"mabridge/registry"
	"mabridge/signer"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// keyEnv is read when --key is not given
const keyEnv = "BRIDGE_KEY"

type rootOptions struct {
	configPath string
	key        string
	chainID    uint64
}

// session is one command run against the configured instances
type session struct {
	reg    *registry.Registry
	chain  *registry.Chain
	key    *ecdsa.PrivateKey
	caller common.Address
}

func (o *rootOptions) open(ctx context.Context) (*session, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	keyHex := o.key
	if keyHex == "" {
		keyHex = os.Getenv(keyEnv)
	}
	if keyHex == "" {
		return nil, fmt.Errorf("no key given, use --key or %s", keyEnv)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("error instantiating private key: %w", err)
	}

	reg, err := registry.Build(ctx, cfg, logger.NewNop(), nil)
	if err != nil {
		return nil, err
	}

	chainID := o.chainID
	if chainID == 0 {
		chainID = cfg.Chains[0].ChainID
	}
	ch, ok := reg.Chain(chainID)
	if !ok {
		reg.Close()
		return nil, fmt.Errorf("chain %d is not configured", chainID)
	}

	return &session{
		reg:    reg,
		chain:  ch,
		key:    key,
		caller: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *session) Close() {
	s.reg.Close()
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "bridgecli",
		Short: "Operate the configured bridge instances",
		Long: `bridgecli runs swaps, redeems and administration against the bridge
instances of a config file. Every command acts as the account of --key.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the config file")
	root.PersistentFlags().StringVar(&opts.key, "key", "", "hex private key of the calling account (default $"+keyEnv+")")
	root.PersistentFlags().Uint64Var(&opts.chainID, "chain", 0, "chain id of the instance (default first configured chain)")

	root.AddCommand(
		newSwapCmd(opts),
		newRedeemCmd(opts),
		newSetValidatorCmd(opts),
		newSignCmd(opts),
		newDecodeCmd(),
		newApproveCmd(opts),
		newMintCmd(opts),
		newBalanceCmd(opts),
	)
	return root
}

func newSwapCmd(opts *rootOptions) *cobra.Command {
	var (
		amount    string
		to        string
		destChain uint64
		approve   bool
	)
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Burn source tokens of the caller towards a destination chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			recipient := s.caller
			if to != "" {
				if recipient, err = parseAddress("recipient", to); err != nil {
					return err
				}
			}
			if destChain == 0 {
				destChain = s.chain.ID()
			}

			if approve {
				l, err := s.chain.UserLedger(registry.SideSource, s.key)
				if err != nil {
					return err
				}
				if err := l.Approve(ctx, s.caller, s.chain.Bridge.Address(), value); err != nil {
					return fmt.Errorf("error approving: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Approved %s to %s\n", value, s.chain.Bridge.Address().Hex())
			}

			ev, err := s.chain.Bridge.Swap(ctx, s.caller, value, recipient, destChain)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Swap initialized: nonce %d, %s from %s on %d to %s on %d\n",
				ev.Nonce, ev.Amount, ev.SourceUser.Hex(), ev.SourceChainID, ev.DestUser.Hex(), ev.DestChainID)
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount in token base units")
	cmd.Flags().StringVar(&to, "to", "", "recipient on the destination chain (default caller)")
	cmd.Flags().Uint64Var(&destChain, "dest-chain", 0, "destination chain id (default the instance chain)")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the bridge for amount first")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newRedeemCmd(opts *rootOptions) *cobra.Command {
	var (
		nonce       uint64
		from        string
		sourceChain uint64
		amount      string
		to          string
		signature   string
	)
	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Redeem a signed swap on the instance of --chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			sourceUser, err := parseAddress("source user", from)
			if err != nil {
				return err
			}
			recipient := s.caller
			if to != "" {
				if recipient, err = parseAddress("recipient", to); err != nil {
					return err
				}
			}
			if sourceChain == 0 {
				sourceChain = s.chain.ID()
			}
			sig, err := hexutil.Decode(signature)
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			ev, err := s.chain.Bridge.Redeem(ctx, bridge.RedeemRequest{
				Nonce:         nonce,
				SourceUser:    sourceUser,
				SourceChainID: sourceChain,
				Amount:        value,
				Recipient:     recipient,
				Signature:     sig,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Redemption completed: nonce %d from chain %d, %s to %s\n",
				ev.Nonce, ev.SourceChainID, ev.Amount, ev.Recipient.Hex())
			return nil
		},
	}
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "swap nonce")
	cmd.Flags().StringVar(&from, "from", "", "swapping user on the source chain")
	cmd.Flags().Uint64Var(&sourceChain, "source-chain", 0, "source chain id (default the instance chain)")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in token base units")
	cmd.Flags().StringVar(&to, "to", "", "recipient (default caller)")
	cmd.Flags().StringVar(&signature, "signature", "", "validator signature, 0x hex")
	for _, name := range []string{"nonce", "from", "amount", "signature"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newSetValidatorCmd(opts *rootOptions) *cobra.Command {
	var validator string
	cmd := &cobra.Command{
		Use:   "set-validator",
		Short: "Replace the validator of the instance, owner only",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			next := s.caller
			if validator != "" {
				if next, err = parseAddress("validator", validator); err != nil {
					return err
				}
			}
			if err := s.chain.Bridge.SetValidator(ctx, s.caller, next); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validator of chain %d set to %s\n", s.chain.ID(), next.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&validator, "validator", "", "new validator address (default caller)")
	return cmd
}

func newSignCmd(opts *rootOptions) *cobra.Command {
	var nonce uint64
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a recorded swap of the instance with --key as validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			ev, err := s.chain.Bridge.SwapEvent(ctx, nonce)
			if err != nil {
				return fmt.Errorf("swap %d of chain %d: %w", nonce, s.chain.ID(), err)
			}
			digest, sig, err := signer.NewValidatorFromKey(s.key).SignRequest(ev.SwapRequest)
			if err != nil {
				return err
			}
			encoded, err := codec.Encode(ev.SwapRequest)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Encoded: %s\n", hexutil.Encode(encoded))
			fmt.Fprintf(out, "Message: %s\n", digest.Hex())
			fmt.Fprintf(out, "Signature: %s\n", hexutil.Encode(sig))
			fmt.Fprintf(out, "Redeem on chain %d with --nonce %d --from %s --source-chain %d --amount %s --to %s\n",
				ev.DestChainID, ev.Nonce, ev.SourceUser.Hex(), ev.SourceChainID, ev.Amount, ev.DestUser.Hex())
			return nil
		},
	}
	cmd.Flags().Uint64Var(&nonce, "nonce", 0, "swap nonce")
	cmd.MarkFlagRequired("nonce")
	return cmd
}

// newDecodeCmd prints the tuple of an encoded canonical message, it needs
// neither config nor key
func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <encoded message>",
		Short: "Print the fields of an encoded swap message and its digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hexutil.Decode(args[0])
			if err != nil {
				return fmt.Errorf("message must be 0x prefixed hex: %w", err)
			}
			req, err := codec.Decode(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Nonce: %d\n", req.Nonce)
			fmt.Fprintf(out, "Source user: %s\n", req.SourceUser.Hex())
			fmt.Fprintf(out, "Source token: %s\n", req.SourceToken.Hex())
			fmt.Fprintf(out, "Source chain: %d\n", req.SourceChainID)
			fmt.Fprintf(out, "Amount: %s\n", req.Amount)
			fmt.Fprintf(out, "Dest user: %s\n", req.DestUser.Hex())
			fmt.Fprintf(out, "Dest token: %s\n", req.DestToken.Hex())
			fmt.Fprintf(out, "Dest chain: %d\n", req.DestChainID)
			fmt.Fprintf(out, "Message: %s\n", codec.Hash(data).Hex())
			return nil
		},
	}
	return cmd
}

func newApproveCmd(opts *rootOptions) *cobra.Command {
	var (
		amount string
		side   string
	)
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Allow the bridge to burn tokens of the caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			sd, err := registry.ParseSide(side)
			if err != nil {
				return err
			}
			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			l, err := s.chain.UserLedger(sd, s.key)
			if err != nil {
				return err
			}
			if err := l.Approve(ctx, s.caller, s.chain.Bridge.Address(), value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved %s of %s token to %s\n", value, sd, s.chain.Bridge.Address().Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount in token base units")
	cmd.Flags().StringVar(&side, "side", string(registry.SideSource), "token side, source or dest")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newMintCmd(opts *rootOptions) *cobra.Command {
	var (
		amount string
		side   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint tokens as a minter of the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			sd, err := registry.ParseSide(side)
			if err != nil {
				return err
			}
			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			recipient := s.caller
			if to != "" {
				if recipient, err = parseAddress("recipient", to); err != nil {
					return err
				}
			}
			l, err := s.chain.UserLedger(sd, s.key)
			if err != nil {
				return err
			}
			if err := l.Mint(ctx, s.caller, recipient, value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Minted %s of %s token to %s\n", value, sd, recipient.Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount in token base units")
	cmd.Flags().StringVar(&side, "side", string(registry.SideSource), "token side, source or dest")
	cmd.Flags().StringVar(&to, "to", "", "recipient (default caller)")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	var (
		side    string
		address string
	)
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a token balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			sd, err := registry.ParseSide(side)
			if err != nil {
				return err
			}
			account := s.caller
			if address != "" {
				if account, err = parseAddress("account", address); err != nil {
					return err
				}
			}
			balance, err := s.chain.Ledger(sd).BalanceOf(ctx, account)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&side, "side", string(registry.SideSource), "token side, source or dest")
	cmd.Flags().StringVar(&address, "address", "", "account (default caller)")
	return cmd
}
