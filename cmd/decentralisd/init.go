package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"go.decentralis.dev/core/internal/filecrypt"
	"go.decentralis.dev/core/internal/keystore"
)

var (
	initGeneratePassphrase bool
	initIterations         int
	initAlgorithm          string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "initialize a new retention file (data/key.json)",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			die(exitUserErr, err)
		}

		passphrase := initPassphraseArg(args)
		if initGeneratePassphrase {
			if passphrase != "" {
				die(exitUserErr, "cannot combine a passphrase argument with --generate-passphrase")
			}
			passphrase, err = keystore.GeneratePassphrase()
			if err != nil {
				die(exitInternal, fmt.Errorf("generating passphrase: %w", err))
			}
			log.Println("generated passphrase (write this down, it is never stored):")
			log.Println(passphrase)
		}
		if passphrase == "" {
			die(exitUserErr, "a passphrase is required; pass one as an argument or use --generate-passphrase")
		}

		var algo filecrypt.Algorithm
		switch initAlgorithm {
		case "", "aes256", "AES-256":
			algo = filecrypt.AES256GCM
		case "chacha20", "ChaCha20":
			algo = filecrypt.ChaCha20Poly1305
		default:
			die(exitUserErr, fmt.Sprintf("unknown --algorithm %q", initAlgorithm))
		}

		if _, err := keystore.GenerateRetention(cfg.keyPath(), passphrase, initIterations, algo); err != nil {
			die(exitInternal, err)
		}
		log.Printf("retention file written to %s", cfg.keyPath())
	},
}

func init() {
	initCmd.Flags().BoolVar(&initGeneratePassphrase, "generate-passphrase", false, "generate a new mnemonic passphrase instead of requiring one")
	initCmd.Flags().IntVar(&initIterations, "iterations", keystore.DefaultIterations, "PBKDF2 iteration count (minimum 100000)")
	initCmd.Flags().StringVar(&initAlgorithm, "algorithm", "aes256", "file cipher: aes256 or chacha20")
}

func initPassphraseArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
