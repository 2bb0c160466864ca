package commands

import (
	"fmt"

	"cryptobotics/internal/features/vault"
	"cryptobotics/internal/infra/config"

	"github.com/spf13/cobra"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Seal and open bot credentials with the configured key",
}

var vaultEncryptCmd = &cobra.Command{
	Use:   "encrypt <plaintext>",
	Short: "Encrypt a value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadVault()
		if err != nil {
			return err
		}
		out, err := v.Encrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var vaultDecryptCmd = &cobra.Command{
	Use:   "decrypt <iv:ciphertext>",
	Short: "Decrypt a sealed value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadVault()
		if err != nil {
			return err
		}
		out, err := v.Decrypt(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

var vaultTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a placeholder bot credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		tok, err := vault.NewBotToken()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func loadVault() (*vault.Vault, error) {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return vault.New(cfg.Vault.EncryptionKey)
}

func init() {
	vaultCmd.AddCommand(vaultEncryptCmd, vaultDecryptCmd, vaultTokenCmd)
}
