package registrar

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tonkeeper/tongo/ton"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"raffle/internal/blockchain"
	"raffle/internal/raffle"
)

var (
	authority = ton.AccountID{Address: [32]byte{0xAA}}
	alice     = ton.AccountID{Address: [32]byte{0x01}}
)

type fakeDispatcher struct {
	messages []blockchain.MintMessage
	err      error
}

func (f *fakeDispatcher) Send(_ context.Context, message blockchain.MintMessage) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message)
	return nil
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "assets.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newRegistrar(t *testing.T, dispatcher Dispatcher) *Registrar {
	t.Helper()
	r, err := New(openDB(t), "secret", dispatcher)
	require.NoError(t, err)
	return r
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(openDB(t), "", nil)
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestMintLifecycle(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	r := newRegistrar(t, dispatcher)
	key := raffle.DeriveKey(authority, 1)
	issuer := r.Issuer(r.Authorize(key))
	ctx := context.Background()

	require.NoError(t, issuer.MintCollection(ctx))
	require.NoError(t, issuer.MintTicket(ctx, 0, alice))
	require.NoError(t, issuer.MintTicket(ctx, 1, alice))
	require.NoError(t, issuer.MintPrize(ctx, alice))

	assets, err := r.AssetsOf(alice)
	require.NoError(t, err)
	require.Len(t, assets, 3)

	kinds := map[AssetKind]int{}
	for _, asset := range assets {
		kinds[asset.Kind]++
		require.Equal(t, key.String(), asset.RaffleAddress)
		require.Equal(t, int64(1), asset.Supply)
	}
	require.Equal(t, map[AssetKind]int{AssetTicket: 2, AssetPrize: 1}, kinds)

	collection, err := r.GetAsset(CollectionAddress(key))
	require.NoError(t, err)
	require.Equal(t, AssetCollection, collection.Kind)
	require.Equal(t, ton.AccountID{Address: MintAuthority(key)}.ToRaw(), collection.Owner)

	cell, err := blockchain.DecodeHex(collection.Metadata)
	require.NoError(t, err)
	metadata, err := blockchain.ParseMetadata(cell)
	require.NoError(t, err)
	require.Equal(t, Name, metadata.Name)
	require.Equal(t, Symbol, metadata.Symbol)
	require.Equal(t, URI, metadata.URI)
	require.Equal(t, MintAuthority(key), metadata.Creator)
	require.Equal(t, uint8(100), metadata.CreatorShare)
	require.Zero(t, metadata.MaxSupply)

	ticket, err := r.GetAsset(TicketAddress(key, 1))
	require.NoError(t, err)
	require.Equal(t, int64(1), ticket.Number)

	edition, err := r.GetEdition(PrizeAddress(key))
	require.NoError(t, err)
	require.Zero(t, edition.MaxSupply)

	require.Len(t, dispatcher.messages, 4)
	require.Equal(t, blockchain.MintCollectionOpCode, dispatcher.messages[0].OpCode)
	require.Equal(t, blockchain.MintTicketOpCode, dispatcher.messages[1].OpCode)
	require.Equal(t, uint64(1), dispatcher.messages[2].Index)
	require.Equal(t, blockchain.MintPrizeOpCode, dispatcher.messages[3].OpCode)
	require.Equal(t, alice, dispatcher.messages[3].Owner)
	require.NotEqual(t, dispatcher.messages[1].QueryID, dispatcher.messages[2].QueryID)
}

func TestMintIsOneShotPerUnit(t *testing.T) {
	r := newRegistrar(t, nil)
	issuer := r.Issuer(r.Authorize(raffle.DeriveKey(authority, 2)))
	ctx := context.Background()

	require.NoError(t, issuer.MintPrize(ctx, alice))
	require.ErrorIs(t, issuer.MintPrize(ctx, alice), ErrAssetExists)

	require.NoError(t, issuer.MintTicket(ctx, 0, alice))
	require.ErrorIs(t, issuer.MintTicket(ctx, 0, alice), ErrAssetExists)
}

func TestForgedAuthorityCannotMint(t *testing.T) {
	r := newRegistrar(t, nil)
	key := raffle.DeriveKey(authority, 3)

	forged := Authority{Raffle: key}
	require.ErrorIs(t, r.Issuer(forged).MintPrize(context.Background(), alice), ErrForgedAuthority)

	other, err := New(openDB(t), "another secret", nil)
	require.NoError(t, err)
	foreign := other.Authorize(key)
	require.ErrorIs(t, r.Issuer(foreign).MintCollection(context.Background()), ErrForgedAuthority)

	assets, err := r.AssetsOf(alice)
	require.NoError(t, err)
	require.Empty(t, assets)
}

func TestDispatchFailureRollsBack(t *testing.T) {
	failure := errors.New("relay offline")
	r := newRegistrar(t, &fakeDispatcher{err: failure})
	key := raffle.DeriveKey(authority, 4)

	err := r.db.Transaction(func(tx *gorm.DB) error {
		return r.WithDB(tx).Issuer(r.Authorize(key)).MintTicket(context.Background(), 0, alice)
	})
	require.ErrorIs(t, err, failure)

	_, err = r.GetAsset(TicketAddress(key, 0))
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSubIdentifiersAreDistinct(t *testing.T) {
	key := raffle.DeriveKey(authority, 5)
	seen := map[[32]byte]bool{
		MintAuthority(key):     true,
		CollectionAddress(key): true,
		PrizeAddress(key):      true,
		TicketAddress(key, 0):  true,
		TicketAddress(key, 1):  true,
	}
	require.Len(t, seen, 5)
	require.NotEqual(t, PrizeAddress(key), PrizeAddress(raffle.DeriveKey(authority, 6)))
}
