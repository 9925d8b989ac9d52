package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/silthus/peerio-updater/updater"
	"github.com/spf13/cobra"
)

var (
	keygenOutputDir string
	keygenName      string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates a new signify-compatible Ed25519 key pair.",
	Long: `keygen writes two files under the output directory:

	<name>.pub  the public key, distributed with the client
	<name>.sec  the secret key, kept offline and used to sign manifests

Anyone holding <name>.sec can publish updates your clients will trust; treat
it like the rest of your release signing material.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(keygenOutputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}

		pub, sec, err := updater.NewSigner().GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}

		pubPath := filepath.Join(keygenOutputDir, keygenName+".pub")
		secPath := filepath.Join(keygenOutputDir, keygenName+".sec")

		if err := os.WriteFile(pubPath, []byte(pub+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", pubPath, err)
		}
		if err := os.WriteFile(secPath, []byte(sec+"\n"), 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", secPath, err)
		}

		cmd.Printf("wrote %s and %s\n", pubPath, secPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOutputDir, "output", "o", ".", "directory to write the key pair into")
	keygenCmd.Flags().StringVarP(&keygenName, "name", "n", "peerio-updater", "base filename for the generated key pair")
}
