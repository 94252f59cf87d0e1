package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bountypool/internal/command"
	"github.com/alanyoungcy/bountypool/internal/config"
	"github.com/alanyoungcy/bountypool/internal/crypto"
)

var (
	encryptOut      string
	encryptPassword string
)

var encryptKeyCmd = &cobra.Command{
	Use:   "encrypt-key <private-key-hex>",
	Short: "Encrypt a distribution wallet key for wallet.encrypted_key_path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := encryptPassword
		if password == "" {
			password = os.Getenv("BOUNTYPOOL_WALLET_KEY_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("encrypt-key: a password is required (--password or BOUNTYPOOL_WALLET_KEY_PASSWORD)")
		}
		data, err := crypto.EncryptKey(args[0], password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(encryptOut, data, 0o600); err != nil {
			return fmt.Errorf("encrypt-key: write %s: %w", encryptOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", encryptOut)
		return nil
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse <comment>",
	Short: "Show how a comment would be parsed as a bounty command",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := command.Options{}
		if cfg, err := config.Load(configPath); err == nil {
			opts.BotName = cfg.Command.BotName
			if limit, err := cfg.MaxBounty(); err == nil {
				opts.MaxBounty = limit
			}
		}
		cmdText := strings.Join(args, " ")
		parsed, ok := command.New(opts).Parse(cmdText)
		out := cmd.OutOrStdout()
		if !ok {
			fmt.Fprintln(out, "no command")
			return nil
		}
		fmt.Fprintf(out, "kind=%s amount=%s currency=%s\n", parsed.Kind, parsed.Amount, parsed.Currency)
		return nil
	},
}

func init() {
	encryptKeyCmd.Flags().StringVar(&encryptOut, "out", "wallet.key", "output file")
	encryptKeyCmd.Flags().StringVar(&encryptPassword, "password", "", "encryption password")
}
