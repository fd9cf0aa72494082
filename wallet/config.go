package wallet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// WalletPath is the directory holding the local wallet db.
	WalletPath string `env:"WALLET_PATH"`

	// MintURL is the preferred mint. A mint persisted from an
	// earlier successful connect takes precedence.
	MintURL string `env:"MINT_URL" envDefault:"https://mint.minibits.cash/Bitcoin"`

	// FallbackMints are tried in order when MintURL is unreachable.
	FallbackMints []string `env:"FALLBACK_MINTS" envSeparator:","`

	// Relays of the broadcast network.
	Relays []string `env:"RELAYS" envSeparator:","`

	// DisplayName is published in the wallet descriptor.
	DisplayName string `env:"WALLET_NAME"`

	Debug bool `env:"DEBUG" envDefault:"false"`
}

// LoadConfig reads configuration from the environment, with .env
// as a fallback for local development.
func LoadConfig() (Config, error) {
	godotenv.Load()

	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %v", err)
	}

	if config.WalletPath == "" {
		homedir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, err
		}
		config.WalletPath = filepath.Join(homedir, ".nutzap", "wallet")
	}
	if err := os.MkdirAll(config.WalletPath, 0700); err != nil {
		return Config{}, err
	}

	return config, nil
}
