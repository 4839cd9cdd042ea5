package blockchain

import (
	"context"
	"fmt"
	"time"

	"github.com/tonkeeper/tongo/liteapi"
	"github.com/tonkeeper/tongo/ton"
	"github.com/tonkeeper/tongo/wallet"
	"go.uber.org/zap"

	"raffle/internal/logger"
)

const sendTimeout = 60 * time.Second

var WalletMap = map[string]int{
	"V1R1":         0,
	"V1R2":         1,
	"V1R3":         2,
	"V2R1":         3,
	"V2R2":         4,
	"V3R1":         5,
	"V3R2":         6,
	"V3R2Lockup":   7,
	"V4R1":         8,
	"V4R2":         9,
	"V5Beta":       10,
	"V5R1":         11,
	"HighLoadV1R1": 12,
	"HighLoadV1R2": 13,
	"HighLoadV2":   14,
	"HighLoadV2R1": 15,
	"HighLoadV2R2": 16,
}

func WalletVersion(name string) (wallet.Version, error) {
	version, ok := WalletMap[name]
	if !ok {
		return 0, fmt.Errorf("unknown wallet version %q", name)
	}
	return wallet.Version(version), nil
}

// Relay forwards mint messages from the raffle's wallet to the contract that performs
// issuance on chain.
type Relay struct {
	wallet  *wallet.Wallet
	address ton.AccountID
}

func NewRelay(mnemonic, walletVersion, relayAddress string) (*Relay, error) {
	address, err := ton.ParseAccountID(relayAddress)
	if err != nil {
		return nil, fmt.Errorf("relay: parse address: %w", err)
	}

	version, err := WalletVersion(walletVersion)
	if err != nil {
		return nil, err
	}

	logger.Debug("relay initialization: lite client...")
	client, err := liteapi.NewClientWithDefaultMainnet()
	if err != nil {
		return nil, fmt.Errorf("relay: lite client: %w", err)
	}

	pk, err := wallet.SeedToPrivateKey(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("relay: private key: %w", err)
	}

	logger.Debug("relay initialization: wallet info", zap.String("version", walletVersion), zap.Int("version index", int(version)))
	relayWallet, err := wallet.New(pk, version, client)
	if err != nil {
		return nil, fmt.Errorf("relay: wallet: %w", err)
	}

	logger.Debug("relay initialization... done", zap.String("relay address", address.ToHuman(true, false)))
	return &Relay{
		wallet:  &relayWallet,
		address: address,
	}, nil
}

func (r *Relay) Send(ctx context.Context, message MintMessage) error {
	logger.Debug("relay: sending mint message...", zap.Uint32("op code", message.OpCode), zap.Uint64("query id", message.QueryID))

	body, err := message.Body()
	if err != nil {
		return fmt.Errorf("relay: encode mint message: %w", err)
	}

	_, err = r.wallet.SendV2(ctx, sendTimeout, wallet.Message{
		Amount:  DefaultMintAmount,
		Address: r.address,
		Bounce:  true,
		Mode:    wallet.DefaultMessageMode,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("relay: send: %w", err)
	}

	logger.Debug("relay: sending mint message... done")
	return nil
}
