package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tonkeeper/tongo/ton"

	"raffle/internal/blockchain"
	"raffle/internal/oracle"
	"raffle/internal/raffle"
	"raffle/internal/registrar"
	"raffle/internal/storage"
)

var (
	authority = ton.AccountID{Address: [32]byte{0xAA}}
	alice     = ton.AccountID{Address: [32]byte{0x01}}
	bob       = ton.AccountID{Address: [32]byte{0x02}}
	carol     = ton.AccountID{Address: [32]byte{0x03}}
	pinned    = ton.AccountID{Workchain: -1, Address: [32]byte{0xEE}}
)

const (
	saleStart = 100
	saleEnd   = 1000
)

type fakeClock struct {
	mu  sync.Mutex
	now raffle.Snapshot
}

func (c *fakeClock) Now() raffle.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(unix int64, slot uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = raffle.Snapshot{Unix: unix, Slot: slot}
}

type switchDispatcher struct {
	mu  sync.Mutex
	err error
}

func (d *switchDispatcher) Send(context.Context, blockchain.MintMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *switchDispatcher) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type fixture struct {
	engine     *Engine
	clock      *fakeClock
	storage    *storage.SqliteStorage
	dispatcher *switchDispatcher
	oracle     oracle.StaticSource
}

func newFixture(t *testing.T, allowMock bool) *fixture {
	t.Helper()

	s, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "raffle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	dispatcher := &switchDispatcher{}
	reg, err := registrar.New(s.DB(), "secret", dispatcher)
	require.NoError(t, err)

	clock := &fakeClock{}
	clock.set(saleStart, 1)
	source := oracle.StaticSource{}

	return &fixture{
		engine:     New(s, reg, source, clock, allowMock),
		clock:      clock,
		storage:    s,
		dispatcher: dispatcher,
		oracle:     source,
	}
}

func (f *fixture) configure(t *testing.T, id, maxTickets uint64, buyers ...ton.AccountID) raffle.Key {
	t.Helper()
	ctx := context.Background()

	oracleAddress := pinned
	r, err := f.engine.Configure(ctx, authority, raffle.Params{
		RaffleID:   id,
		Name:       "engine raffle",
		SaleStart:  saleStart,
		SaleEnd:    saleEnd,
		Price:      1,
		MaxTickets: maxTickets,
		Oracle:     &oracleAddress,
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.InitializeAssets(ctx, r.Key(), authority))

	for _, buyer := range buyers {
		_, err := f.engine.BuyTicket(ctx, r.Key(), buyer)
		require.NoError(t, err)
	}
	return r.Key()
}

func seedData(v byte) []byte {
	data := make([]byte, 40)
	data[8] = v
	return data
}

func TestConfigure(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	key := f.configure(t, 1, 3)
	r, err := f.engine.Get(key)
	require.NoError(t, err)
	require.Equal(t, "engine raffle", r.Name())
	require.Equal(t, raffle.PhaseOpen, r.Phase())
	require.True(t, r.AssetsInitialized())

	_, err = f.engine.Configure(ctx, authority, raffle.Params{RaffleID: 1, MaxTickets: 3, SaleEnd: 1})
	require.ErrorIs(t, err, raffle.ErrRaffleExists)

	_, err = f.engine.Configure(ctx, authority, raffle.Params{RaffleID: 2, MaxTickets: 101, SaleEnd: 1})
	require.ErrorIs(t, err, raffle.ErrInvalidCapacity)

	raffles, err := f.engine.List()
	require.NoError(t, err)
	require.Len(t, raffles, 1)

	_, err = f.engine.Get(raffle.DeriveKey(authority, 99))
	require.ErrorIs(t, err, raffle.ErrRaffleNotFound)
}

func TestBuyTicketCapacity(t *testing.T) {
	f := newFixture(t, false)
	key := f.configure(t, 1, 3, alice, bob, alice)

	_, err := f.engine.BuyTicket(context.Background(), key, carol)
	require.ErrorIs(t, err, raffle.ErrNoTicketsLeft)
	require.Equal(t, raffle.KindCapacity, raffle.KindOf(err))

	r, err := f.engine.Get(key)
	require.NoError(t, err)
	require.Equal(t, uint64(3), r.TotalTicketsBought())
	require.Equal(t, []ton.AccountID{alice, bob, alice}, r.Tickets())

	tickets, err := f.engine.TicketsOf(key, alice)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 2}, tickets)

	assets, err := f.engine.Assets(alice)
	require.NoError(t, err)
	require.Len(t, assets, 2)
}

func TestBuyTicketRollsBackOnMintFailure(t *testing.T) {
	f := newFixture(t, false)
	key := f.configure(t, 1, 3, alice)

	failure := errors.New("relay offline")
	f.dispatcher.fail(failure)
	_, err := f.engine.BuyTicket(context.Background(), key, bob)
	require.ErrorIs(t, err, failure)

	r, err := f.engine.Get(key)
	require.NoError(t, err)
	require.Equal(t, uint64(1), r.TotalTicketsBought())
	assets, err := f.engine.Assets(bob)
	require.NoError(t, err)
	require.Empty(t, assets)

	f.dispatcher.fail(nil)
	index, err := f.engine.BuyTicket(context.Background(), key, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1), index)
}

func TestBuyTicketConcurrently(t *testing.T) {
	f := newFixture(t, false)
	key := f.configure(t, 1, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		sold    []uint64
		soldOut int
		failed  []error
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(b byte) {
			defer wg.Done()
			index, err := f.engine.BuyTicket(context.Background(), key, ton.AccountID{Address: [32]byte{0x10, b}})
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, raffle.ErrNoTicketsLeft) {
				soldOut++
				return
			}
			if err != nil {
				failed = append(failed, err)
				return
			}
			sold = append(sold, index)
		}(byte(i))
	}
	wg.Wait()

	require.Empty(t, failed)
	require.Len(t, sold, 10)
	require.Equal(t, 15, soldOut)
	require.ElementsMatch(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, sold)

	r, err := f.engine.Get(key)
	require.NoError(t, err)
	require.Equal(t, uint64(10), r.TotalTicketsBought())
}

func TestCommitBeforeSaleEnd(t *testing.T) {
	f := newFixture(t, true)
	key := f.configure(t, 1, 3, alice)
	f.oracle[pinned] = seedData(7)
	ctx := context.Background()

	f.clock.set(saleEnd-1, 2)
	require.ErrorIs(t, f.engine.CommitRandomness(ctx, key, authority, raffle.ModeMock, nil), raffle.ErrRaffleStillActive)
	require.ErrorIs(t, f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil), raffle.ErrRaffleStillActive)

	r, err := f.engine.Get(key)
	require.NoError(t, err)
	require.Equal(t, [raffle.SeedSize]byte{}, r.Randomness())
	require.False(t, r.RandomnessCommitted())
}

func TestCommitMockRandomness(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, false)
		key := f.configure(t, 1, 3, alice)
		f.clock.set(saleEnd, 2)

		err := f.engine.CommitRandomness(context.Background(), key, authority, raffle.ModeMock, nil)
		require.ErrorIs(t, err, raffle.ErrMockRandomnessDisabled)
	})

	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, true)
		key := f.configure(t, 7, 3, alice)
		f.clock.set(1000, 3)

		require.NoError(t, f.engine.CommitRandomness(context.Background(), key, authority, raffle.ModeMock, nil))

		r, err := f.engine.Get(key)
		require.NoError(t, err)
		seed := r.Randomness()
		require.Equal(t, []byte{0x5b, 0x1b}, seed[:2])
		require.Equal(t, make([]byte, 14), seed[2:16])
		require.Equal(t, raffle.ModeMock, r.RandomnessSource())
	})
}

func TestCommitRealRandomness(t *testing.T) {
	f := newFixture(t, false)
	key := f.configure(t, 1, 3, alice, bob, carol)
	ctx := context.Background()
	f.clock.set(saleEnd, 2)

	err := f.engine.CommitRandomness(ctx, key, alice, raffle.ModeReal, nil)
	require.ErrorIs(t, err, raffle.ErrNotAuthorized)

	err = f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil)
	require.ErrorIs(t, err, raffle.ErrMissingRandomnessAccount)

	f.oracle[pinned] = make([]byte, 39)
	err = f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil)
	require.ErrorIs(t, err, raffle.ErrInvalidRandomnessAccount)

	other := ton.AccountID{Address: [32]byte{0xDD}}
	f.oracle[other] = seedData(7)
	err = f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, &other)
	require.ErrorIs(t, err, raffle.ErrInvalidRandomnessAccount)

	f.oracle[pinned] = seedData(7)
	require.NoError(t, f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil))
	err = f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil)
	require.ErrorIs(t, err, raffle.ErrRandomnessAlreadyCommitted)

	state, err := f.engine.State(key)
	require.NoError(t, err)
	require.Equal(t, raffle.StateRandomnessCommitted, state)
}

func TestRevealAndClaim(t *testing.T) {
	f := newFixture(t, false)
	key := f.configure(t, 1, 3, alice, bob, carol)
	ctx := context.Background()

	var notified []raffle.WinnerChosen
	f.engine.OnWinnerChosen(func(_ context.Context, event raffle.WinnerChosen) {
		notified = append(notified, event)
	})

	f.clock.set(saleEnd, 2)
	f.oracle[pinned] = seedData(7)
	require.NoError(t, f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil))

	_, err := f.engine.RevealWinner(ctx, key, alice)
	require.ErrorIs(t, err, raffle.ErrNotAuthorized)

	event, err := f.engine.RevealWinner(ctx, key, authority)
	require.NoError(t, err)
	require.Equal(t, raffle.WinnerChosen{RaffleID: 1, Winner: bob, WinnerIndex: 1}, event)
	require.Equal(t, []raffle.WinnerChosen{event}, notified)

	stored, err := f.storage.GetWinnerEvent(key)
	require.NoError(t, err)
	require.Equal(t, bob.ToRaw(), stored.Winner)

	_, err = f.engine.RevealWinner(ctx, key, authority)
	require.ErrorIs(t, err, raffle.ErrWinnerAlreadyChosen)
	require.Len(t, notified, 1)

	err = f.engine.ClaimPrize(ctx, key, alice)
	require.ErrorIs(t, err, raffle.ErrNotWinner)

	require.NoError(t, f.engine.ClaimPrize(ctx, key, bob))
	require.ErrorIs(t, f.engine.ClaimPrize(ctx, key, bob), raffle.ErrAlreadyClaimed)

	r, err := f.engine.Get(key)
	require.NoError(t, err)
	require.True(t, r.Claimed())
	require.False(t, r.IsActive())

	assets, err := f.engine.Assets(bob)
	require.NoError(t, err)
	kinds := make([]registrar.AssetKind, 0, len(assets))
	for _, asset := range assets {
		kinds = append(kinds, asset.Kind)
	}
	require.ElementsMatch(t, []registrar.AssetKind{registrar.AssetTicket, registrar.AssetPrize}, kinds)
}

func TestNotifierMayCallBackIntoEngine(t *testing.T) {
	f := newFixture(t, false)
	key := f.configure(t, 1, 3, alice, bob, carol)
	ctx := context.Background()

	var (
		claimErr error
		claimed  bool
	)
	f.engine.OnWinnerChosen(func(ctx context.Context, event raffle.WinnerChosen) {
		claimErr = f.engine.ClaimPrize(ctx, key, event.Winner)
		r, err := f.engine.Get(key)
		if err == nil {
			claimed = r.Claimed()
		}
	})

	f.clock.set(saleEnd, 2)
	f.oracle[pinned] = seedData(7)
	require.NoError(t, f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil))

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.RevealWinner(ctx, key, authority)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reveal did not return")
	}

	require.NoError(t, claimErr)
	require.True(t, claimed)
}

func TestClaimRollsBackOnMintFailure(t *testing.T) {
	f := newFixture(t, false)
	key := f.configure(t, 1, 2, alice, bob)
	ctx := context.Background()

	f.clock.set(saleEnd, 2)
	f.oracle[pinned] = seedData(2)
	require.NoError(t, f.engine.CommitRandomness(ctx, key, authority, raffle.ModeReal, nil))
	event, err := f.engine.RevealWinner(ctx, key, authority)
	require.NoError(t, err)
	require.Equal(t, alice, event.Winner)

	f.dispatcher.fail(errors.New("relay offline"))
	require.Error(t, f.engine.ClaimPrize(ctx, key, alice))

	r, err := f.engine.Get(key)
	require.NoError(t, err)
	require.False(t, r.Claimed())

	f.dispatcher.fail(nil)
	require.NoError(t, f.engine.ClaimPrize(ctx, key, alice))
}

func TestRevealWithoutTickets(t *testing.T) {
	f := newFixture(t, true)
	key := f.configure(t, 1, 3)
	ctx := context.Background()

	f.clock.set(saleEnd, 2)
	_, err := f.engine.RevealWinner(ctx, key, authority)
	require.ErrorIs(t, err, raffle.ErrNoTicketsBought)

	require.NoError(t, f.engine.CommitRandomness(ctx, key, authority, raffle.ModeMock, nil))
	_, err = f.engine.RevealWinner(ctx, key, authority)
	require.ErrorIs(t, err, raffle.ErrNoTicketsBought)

	_, err = f.storage.GetWinnerEvent(key)
	require.Error(t, err)
}

func TestSystemClockSlotIncreases(t *testing.T) {
	clock := NewSystemClock()
	first := clock.Now()
	second := clock.Now()
	require.Greater(t, second.Slot, first.Slot)
	require.GreaterOrEqual(t, second.Unix, first.Unix)
}
