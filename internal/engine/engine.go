// Package engine runs raffle operations against storage and the registrar. Each write
// reads the clock once, holds the raffle's lock and runs in a single database
// transaction, so a failed mint or save leaves nothing behind.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"

	"raffle/internal/logger"
	"raffle/internal/oracle"
	"raffle/internal/raffle"
	"raffle/internal/registrar"
	"raffle/internal/storage"
)

// Notifier receives every winner announcement after it has been committed and the
// raffle's lock released, so it may call back into the engine.
type Notifier func(ctx context.Context, event raffle.WinnerChosen)

type Engine struct {
	storage   storage.Storage
	registrar *registrar.Registrar
	source    oracle.Source
	clock     raffle.Clock
	allowMock bool

	locks sync.Map

	mu        sync.RWMutex
	notifiers []Notifier
}

func New(
	storage storage.Storage,
	registrar *registrar.Registrar,
	source oracle.Source,
	clock raffle.Clock,
	allowMock bool,
) *Engine {
	return &Engine{
		storage:   storage,
		registrar: registrar,
		source:    source,
		clock:     clock,
		allowMock: allowMock,
	}
}

func (e *Engine) OnWinnerChosen(notifier Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, notifier)
}

func (e *Engine) lock(key raffle.Key) func() {
	value, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

type operation func(tx storage.Storage, r *raffle.Raffle, issuer raffle.Issuer) error

// update loads the raffle inside a transaction, applies op and saves the result. The
// caller holds the raffle's lock.
func (e *Engine) update(ctx context.Context, key raffle.Key, op operation) error {
	return e.storage.Transaction(ctx, func(tx storage.Storage) error {
		r, err := tx.GetRaffle(key)
		if err != nil {
			return err
		}

		issuer := e.registrar.WithDB(tx.DB()).Issuer(e.registrar.Authorize(key))
		if err := op(tx, r, issuer); err != nil {
			return err
		}

		return tx.SaveRaffle(r)
	})
}

func (e *Engine) Configure(ctx context.Context, authority ton.AccountID, params raffle.Params) (*raffle.Raffle, error) {
	logger.Info("engine: configuring raffle...",
		zap.String("authority", authority.ToRaw()),
		zap.Uint64("raffle id", params.RaffleID),
		zap.String("name", params.Name),
	)

	r, err := raffle.New(authority, params)
	if err != nil {
		logger.Warn("engine: configuring raffle... rejected", zap.Error(err))
		return nil, err
	}

	unlock := e.lock(r.Key())
	defer unlock()

	err = e.storage.Transaction(ctx, func(tx storage.Storage) error {
		return tx.CreateRaffle(r)
	})
	if err != nil {
		logger.Warn("engine: configuring raffle... rejected", zap.Stringer("raffle", r.Key()), zap.Error(err))
		return nil, err
	}

	logger.Info("engine: configuring raffle... done", zap.Stringer("raffle", r.Key()))
	return r, nil
}

func (e *Engine) InitializeAssets(ctx context.Context, key raffle.Key, caller ton.AccountID) error {
	logger.Info("engine: initializing assets...", zap.Stringer("raffle", key), zap.String("caller", caller.ToRaw()))

	unlock := e.lock(key)
	defer unlock()

	err := e.update(ctx, key, func(_ storage.Storage, r *raffle.Raffle, issuer raffle.Issuer) error {
		return r.InitializeAssets(ctx, caller, issuer)
	})
	if err != nil {
		logger.Warn("engine: initializing assets... rejected", zap.Stringer("raffle", key), zap.Error(err))
		return err
	}

	logger.Info("engine: initializing assets... done", zap.Stringer("raffle", key))
	return nil
}

// BuyTicket sells the next ticket to buyer and returns its index.
func (e *Engine) BuyTicket(ctx context.Context, key raffle.Key, buyer ton.AccountID) (uint64, error) {
	logger.Info("engine: buying ticket...", zap.Stringer("raffle", key), zap.String("buyer", buyer.ToRaw()))

	unlock := e.lock(key)
	defer unlock()

	now := e.clock.Now()
	var index uint64
	err := e.update(ctx, key, func(_ storage.Storage, r *raffle.Raffle, issuer raffle.Issuer) error {
		var err error
		index, err = r.BuyTicket(ctx, now, buyer, issuer)
		return err
	})
	if err != nil {
		logger.Warn("engine: buying ticket... rejected", zap.Stringer("raffle", key), zap.Error(err))
		return 0, err
	}

	logger.Info("engine: buying ticket... done", zap.Stringer("raffle", key), zap.Uint64("ticket", index))
	return index, nil
}

// CommitRandomness fixes the raffle's seed. In real mode the account is read from
// address, or from the raffle's pinned oracle when address is nil.
func (e *Engine) CommitRandomness(ctx context.Context, key raffle.Key, caller ton.AccountID, mode raffle.Mode, address *ton.AccountID) error {
	logger.Info("engine: committing randomness...", zap.Stringer("raffle", key), zap.Stringer("mode", mode))

	if mode == raffle.ModeMock && !e.allowMock {
		logger.Warn("engine: committing randomness... rejected", zap.Stringer("raffle", key), zap.Error(raffle.ErrMockRandomnessDisabled))
		return raffle.ErrMockRandomnessDisabled
	}

	unlock := e.lock(key)
	defer unlock()

	now := e.clock.Now()

	var account *raffle.OracleAccount
	if mode == raffle.ModeReal {
		var err error
		account, err = e.fetchOracle(ctx, key, now, caller, address)
		if err != nil {
			logger.Warn("engine: committing randomness... rejected", zap.Stringer("raffle", key), zap.Error(err))
			return err
		}
	}

	err := e.update(ctx, key, func(_ storage.Storage, r *raffle.Raffle, _ raffle.Issuer) error {
		return r.CommitRandomness(now, caller, mode, account)
	})
	if err != nil {
		logger.Warn("engine: committing randomness... rejected", zap.Stringer("raffle", key), zap.Error(err))
		return err
	}

	logger.Info("engine: committing randomness... done", zap.Stringer("raffle", key))
	return nil
}

// fetchOracle reads the oracle account once every other commit precondition holds, so
// callers see the same error ordering whether or not the oracle is reachable.
func (e *Engine) fetchOracle(ctx context.Context, key raffle.Key, now raffle.Snapshot, caller ton.AccountID, address *ton.AccountID) (*raffle.OracleAccount, error) {
	r, err := e.storage.GetRaffle(key)
	if err != nil {
		return nil, err
	}

	check, err := raffle.Restore(r.Record())
	if err != nil {
		return nil, err
	}
	err = check.CommitRandomness(now, caller, raffle.ModeReal, nil)
	if !errors.Is(err, raffle.ErrMissingRandomnessAccount) {
		return nil, err
	}

	if address == nil {
		pinned, ok := r.Oracle()
		if !ok {
			return nil, raffle.ErrMissingRandomnessAccount
		}
		address = &pinned
	}
	if e.source == nil {
		return nil, raffle.ErrMissingRandomnessAccount
	}

	account, err := e.source.Fetch(ctx, *address)
	if errors.Is(err, oracle.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %v", raffle.ErrMissingRandomnessAccount, err)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: fetch oracle: %w", err)
	}
	return account, nil
}

func (e *Engine) RevealWinner(ctx context.Context, key raffle.Key, caller ton.AccountID) (raffle.WinnerChosen, error) {
	logger.Info("engine: revealing winner...", zap.Stringer("raffle", key))

	unlock := e.lock(key)
	now := e.clock.Now()
	var event raffle.WinnerChosen
	err := e.update(ctx, key, func(tx storage.Storage, r *raffle.Raffle, _ raffle.Issuer) error {
		var err error
		if event, err = r.RevealWinner(now, caller); err != nil {
			return err
		}
		return tx.SaveWinnerEvent(key, event)
	})
	// notifiers may call back into the engine for this raffle
	unlock()
	if err != nil {
		logger.Warn("engine: revealing winner... rejected", zap.Stringer("raffle", key), zap.Error(err))
		return raffle.WinnerChosen{}, err
	}

	logger.Info("engine: winner chosen",
		zap.Stringer("raffle", key),
		zap.Uint64("raffle id", event.RaffleID),
		zap.String("winner", event.Winner.ToRaw()),
		zap.Uint64("winner index", event.WinnerIndex),
	)

	e.mu.RLock()
	notifiers := append([]Notifier(nil), e.notifiers...)
	e.mu.RUnlock()
	for _, notify := range notifiers {
		notify(ctx, event)
	}

	return event, nil
}

func (e *Engine) ClaimPrize(ctx context.Context, key raffle.Key, claimant ton.AccountID) error {
	logger.Info("engine: claiming prize...", zap.Stringer("raffle", key), zap.String("claimant", claimant.ToRaw()))

	unlock := e.lock(key)
	defer unlock()

	now := e.clock.Now()
	err := e.update(ctx, key, func(_ storage.Storage, r *raffle.Raffle, issuer raffle.Issuer) error {
		return r.ClaimPrize(ctx, now, claimant, issuer)
	})
	if err != nil {
		logger.Warn("engine: claiming prize... rejected", zap.Stringer("raffle", key), zap.Error(err))
		return err
	}

	logger.Info("engine: claiming prize... done", zap.Stringer("raffle", key))
	return nil
}

func (e *Engine) Get(key raffle.Key) (*raffle.Raffle, error) {
	return e.storage.GetRaffle(key)
}

func (e *Engine) List() ([]*raffle.Raffle, error) {
	return e.storage.ListRaffles()
}

// TicketsOf returns the ledger indices owned by owner in one raffle.
func (e *Engine) TicketsOf(key raffle.Key, owner ton.AccountID) ([]uint64, error) {
	r, err := e.storage.GetRaffle(key)
	if err != nil {
		return nil, err
	}
	return r.TicketsOf(owner), nil
}

func (e *Engine) Assets(owner ton.AccountID) ([]*registrar.Asset, error) {
	return e.registrar.AssetsOf(owner)
}

func (e *Engine) State(key raffle.Key) (raffle.State, error) {
	r, err := e.storage.GetRaffle(key)
	if err != nil {
		return 0, err
	}
	return r.State(e.clock.Now()), nil
}
