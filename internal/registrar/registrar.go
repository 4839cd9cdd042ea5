// Package registrar keeps the ledger of units minted for raffles and is the only place
// issuance happens. A raffle receives an Issuer bound to its own sealed authority;
// units are recorded in the database and, when a dispatcher is configured, relayed
// on chain as mint messages.
package registrar

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
	"gorm.io/gorm"

	"raffle/internal/blockchain"
	"raffle/internal/logger"
	"raffle/internal/raffle"
)

const (
	Name   = "Token Lottery Ticket #"
	Symbol = "TICKET"
	URI    = "Token Lottery"

	creatorShare = 100
)

var (
	ErrForgedAuthority = errors.New("registrar: authority seal does not match")
	ErrAssetExists     = errors.New("registrar: asset already minted")
	ErrEmptySecret     = errors.New("registrar: empty secret")
)

// Dispatcher relays mint messages to the chain. *blockchain.Relay implements it.
type Dispatcher interface {
	Send(ctx context.Context, message blockchain.MintMessage) error
}

// Authority is the capability to mint on behalf of one raffle. Only Registrar.Authorize
// produces a valid seal.
type Authority struct {
	Raffle raffle.Key
	Seal   [32]byte
}

type Registrar struct {
	db         *gorm.DB
	secret     []byte
	dispatcher Dispatcher
}

// New migrates the asset tables on db. dispatcher may be nil, in which case units are
// only recorded locally.
func New(db *gorm.DB, secret string, dispatcher Dispatcher) (*Registrar, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	if err := db.AutoMigrate(&Asset{}, &Edition{}); err != nil {
		return nil, fmt.Errorf("registrar: migrate: %w", err)
	}

	return &Registrar{
		db:         db,
		secret:     []byte(secret),
		dispatcher: dispatcher,
	}, nil
}

// WithDB returns a registrar writing through tx, typically the transaction of the
// operation that triggers the mint.
func (r *Registrar) WithDB(tx *gorm.DB) *Registrar {
	return &Registrar{
		db:         tx,
		secret:     r.secret,
		dispatcher: r.dispatcher,
	}
}

func (r *Registrar) Authorize(key raffle.Key) Authority {
	return Authority{
		Raffle: key,
		Seal:   r.seal(key),
	}
}

func (r *Registrar) seal(key raffle.Key) [32]byte {
	authority := MintAuthority(key)

	var seal [32]byte
	hash := sha3.NewLegacyKeccak256()
	hash.Write(r.secret)
	hash.Write([]byte("mint_authority"))
	hash.Write(authority[:])
	hash.Sum(seal[:0])
	return seal
}

func (r *Registrar) verify(authority Authority) error {
	expected := r.seal(authority.Raffle)
	if subtle.ConstantTimeCompare(expected[:], authority.Seal[:]) != 1 {
		return ErrForgedAuthority
	}
	return nil
}

// Issuer returns the issuance capability of one raffle. The seal is checked on every
// mint, so an Issuer built from a forged Authority cannot mint anything.
func (r *Registrar) Issuer(authority Authority) raffle.Issuer {
	return &issuer{
		registrar: r,
		authority: authority,
	}
}

func (r *Registrar) AssetsOf(owner ton.AccountID) ([]*Asset, error) {
	var assets []*Asset
	err := r.db.Where("owner = ?", owner.ToRaw()).Order("created_at asc, address asc").Find(&assets).Error
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *Registrar) GetAsset(address [32]byte) (*Asset, error) {
	var asset Asset
	err := r.db.Where("address = ?", ton.AccountID{Address: address}.ToRaw()).First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *Registrar) GetEdition(address [32]byte) (*Edition, error) {
	var edition Edition
	err := r.db.Where("asset_address = ?", ton.AccountID{Address: address}.ToRaw()).First(&edition).Error
	if err != nil {
		return nil, err
	}
	return &edition, nil
}

type unit struct {
	kind     AssetKind
	opCode   uint32
	address  [32]byte
	owner    ton.AccountID
	number   uint64
	metadata *blockchain.Metadata
	edition  bool
}

func (r *Registrar) mint(ctx context.Context, authority Authority, u unit) error {
	if err := r.verify(authority); err != nil {
		return err
	}

	address := ton.AccountID{Address: u.address}.ToRaw()
	logger.Debug("registrar: minting...",
		zap.String("kind", string(u.kind)),
		zap.String("asset", address),
		zap.String("owner", u.owner.ToRaw()),
	)

	var count int64
	if err := r.db.Model(&Asset{}).Where("address = ?", address).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s %s", ErrAssetExists, u.kind, address)
	}

	receipt := uuid.New()
	message := blockchain.MintMessage{
		OpCode:   u.opCode,
		QueryID:  binary.BigEndian.Uint64(receipt[:8]),
		Asset:    u.address,
		Owner:    u.owner,
		Index:    u.number,
		Metadata: u.metadata,
	}

	var metadata string
	if u.metadata != nil {
		cell, err := u.metadata.Cell()
		if err != nil {
			return fmt.Errorf("registrar: metadata: %w", err)
		}
		if metadata, err = blockchain.EncodeHex(cell); err != nil {
			return fmt.Errorf("registrar: metadata: %w", err)
		}
	}

	err := r.db.Create(&Asset{
		Address:       address,
		Kind:          u.kind,
		RaffleAddress: authority.Raffle.String(),
		Owner:         u.owner.ToRaw(),
		Number:        int64(u.number),
		Supply:        1,
		Metadata:      metadata,
		ReceiptID:     receipt.String(),
	}).Error
	if err != nil {
		return err
	}

	if u.edition {
		err = r.db.Create(&Edition{
			AssetAddress: address,
			MaxSupply:    int64(u.metadata.MaxSupply),
		}).Error
		if err != nil {
			return err
		}
	}

	if r.dispatcher != nil {
		if err := r.dispatcher.Send(ctx, message); err != nil {
			return fmt.Errorf("registrar: dispatch %s: %w", u.kind, err)
		}
	}

	logger.Debug("registrar: minting... done", zap.String("asset", address), zap.String("receipt", receipt.String()))
	return nil
}

type issuer struct {
	registrar *Registrar
	authority Authority
}

func (i *issuer) MintCollection(ctx context.Context) error {
	key := i.authority.Raffle
	authority := MintAuthority(key)
	return i.registrar.mint(ctx, i.authority, unit{
		kind:    AssetCollection,
		opCode:  blockchain.MintCollectionOpCode,
		address: CollectionAddress(key),
		owner:   ton.AccountID{Address: authority},
		metadata: &blockchain.Metadata{
			Name:         Name,
			Symbol:       Symbol,
			URI:          URI,
			Creator:      authority,
			CreatorShare: creatorShare,
			Mutable:      true,
			Collection:   true,
		},
		edition: true,
	})
}

func (i *issuer) MintTicket(ctx context.Context, index uint64, owner ton.AccountID) error {
	key := i.authority.Raffle
	return i.registrar.mint(ctx, i.authority, unit{
		kind:    AssetTicket,
		opCode:  blockchain.MintTicketOpCode,
		address: TicketAddress(key, index),
		owner:   owner,
		number:  index,
		metadata: &blockchain.Metadata{
			Name:   Name + strconv.FormatUint(index, 10),
			Symbol: Symbol,
			URI:    URI,
		},
	})
}

func (i *issuer) MintPrize(ctx context.Context, owner ton.AccountID) error {
	key := i.authority.Raffle
	return i.registrar.mint(ctx, i.authority, unit{
		kind:    AssetPrize,
		opCode:  blockchain.MintPrizeOpCode,
		address: PrizeAddress(key),
		owner:   owner,
		metadata: &blockchain.Metadata{
			Name:    Name,
			Symbol:  Symbol,
			URI:     URI,
			Mutable: true,
		},
		edition: true,
	})
}

func derive(parts ...[]byte) [32]byte {
	var out [32]byte
	hash := sha3.NewLegacyKeccak256()
	for _, part := range parts {
		hash.Write(part)
	}
	hash.Sum(out[:0])
	return out
}

// MintAuthority is the public address that signs for a raffle's units and is listed
// as the verified creator of its collection.
func MintAuthority(key raffle.Key) [32]byte {
	return derive([]byte("authority"), key[:])
}

func CollectionAddress(key raffle.Key) [32]byte {
	return derive([]byte("collection_mint"), key[:])
}

func TicketAddress(key raffle.Key, index uint64) [32]byte {
	var number [8]byte
	binary.LittleEndian.PutUint64(number[:], index)
	return derive([]byte("ticket_mint"), key[:], number[:])
}

func PrizeAddress(key raffle.Key) [32]byte {
	return derive([]byte("prize_mint"), key[:])
}
