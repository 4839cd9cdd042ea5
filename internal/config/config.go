package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/tonkeeper/tongo/ton"

	"raffle/internal/logger"
)

const (
	DefaultDatabase     = "persistent.db"
	DefaultOracleMethod = "randomness_data"
	DefaultWallet       = "V4R2"
)

type Configuration struct {
	Database string
	Logger   logger.Configuration

	// AllowMockRandomness unlocks the deterministic, non-cryptographic commit mode.
	AllowMockRandomness bool
	RegistrarSecret     string

	TonapiToken  string
	OracleMethod string

	WalletMnemonic   string
	WalletVersion    string
	MintRelayAddress string
}

// Load reads the given dotenv files (".env" when none given) into the process
// environment and builds the configuration from it. Missing files are not an error.
func Load(files ...string) (*Configuration, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", file, err)
		}
	}

	return FromEnvironment()
}

func FromEnvironment() (*Configuration, error) {
	console, err := boolEnv("LOG_CONSOLE", true)
	if err != nil {
		return nil, err
	}

	allowMock, err := boolEnv("RAFFLE_ALLOW_MOCK_RANDOMNESS", false)
	if err != nil {
		return nil, err
	}

	configuration := &Configuration{
		Database: stringEnv("RAFFLE_DATABASE", DefaultDatabase),
		Logger: logger.Configuration{
			LogFile:   os.Getenv("LOG_FILE"),
			ErrorFile: os.Getenv("LOG_ERROR_FILE"),
			Level:     stringEnv("LOG_LEVEL", "info"),
			Console:   console,
		},
		AllowMockRandomness: allowMock,
		RegistrarSecret:     os.Getenv("REGISTRAR_SECRET"),
		TonapiToken:         os.Getenv("TONAPI_TOKEN"),
		OracleMethod:        stringEnv("ORACLE_METHOD", DefaultOracleMethod),
		WalletMnemonic:      os.Getenv("WALLET_MNEMONIC"),
		WalletVersion:       stringEnv("WALLET_VERSION", DefaultWallet),
		MintRelayAddress:    os.Getenv("MINT_RELAY_ADDRESS"),
	}

	if err := configuration.Validate(); err != nil {
		return nil, err
	}

	return configuration, nil
}

func (c *Configuration) Validate() error {
	if c.RegistrarSecret == "" {
		return errors.New("config: REGISTRAR_SECRET is required")
	}

	if c.WalletMnemonic != "" {
		if c.MintRelayAddress == "" {
			return errors.New("config: MINT_RELAY_ADDRESS is required when WALLET_MNEMONIC is set")
		}
		if _, err := ton.ParseAccountID(c.MintRelayAddress); err != nil {
			return fmt.Errorf("config: invalid MINT_RELAY_ADDRESS: %w", err)
		}
	}

	return nil
}

func stringEnv(name, fallback string) string {
	if value, ok := os.LookupEnv(name); ok && value != "" {
		return value
	}
	return fallback
}

func boolEnv(name string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return fallback, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", name, err)
	}
	return parsed, nil
}
