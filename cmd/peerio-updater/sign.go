package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/silthus/peerio-updater/updater"
	"github.com/spf13/cobra"
)

var (
	signSecretKeyFile string
	signInputFile     string
	signOutputFile    string
)

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Signs a plain key:value manifest with a secret key.",
	Long: `sign reads an unsigned manifest (plain "key: value" lines, one release's
version/urgency/date/changelog plus a <platform>-file/-size/-sha512 triple per
platform) and writes the signed wire format clients verify on fetch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secRaw, err := os.ReadFile(signSecretKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read secret key file: %w", err)
		}
		secretKey := strings.TrimSpace(string(secRaw))

		inRaw, err := os.ReadFile(signInputFile)
		if err != nil {
			return fmt.Errorf("failed to read input manifest: %w", err)
		}

		manifest, err := updater.ParseUnsigned(string(inRaw))
		if err != nil {
			return fmt.Errorf("failed to parse input manifest: %w", err)
		}

		signed, err := updater.Serialize(secretKey, manifest)
		if err != nil {
			return fmt.Errorf("failed to sign manifest: %w", err)
		}

		if signOutputFile == "" {
			cmd.Print(signed)
			return nil
		}
		if err := os.WriteFile(signOutputFile, []byte(signed), 0o644); err != nil {
			return fmt.Errorf("failed to write signed manifest: %w", err)
		}
		cmd.Printf("wrote %s\n", signOutputFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	signCmd.Flags().StringVarP(&signSecretKeyFile, "key", "k", "", "secret key file to sign with")
	signCmd.Flags().StringVarP(&signInputFile, "input", "i", "", "unsigned manifest file to sign")
	signCmd.Flags().StringVarP(&signOutputFile, "output", "o", "", "file to write the signed manifest to (default stdout)")
	signCmd.MarkFlagRequired("key")
	signCmd.MarkFlagRequired("input")
}
