package raffle

import (
	"context"
	"math"

	"github.com/tonkeeper/tongo/ton"
)

// InitializeAssets mints the ticket collection. Only the authority may call it, once.
func (r *Raffle) InitializeAssets(ctx context.Context, caller ton.AccountID, issuer Issuer) error {
	if caller != r.authority {
		return ErrNotAuthorized
	}
	if r.assetsInitialized {
		return ErrAssetsAlreadyInitialized
	}

	if err := issuer.MintCollection(ctx); err != nil {
		return err
	}

	r.assetsInitialized = true
	return nil
}

// BuyTicket mints the next ticket to buyer and appends buyer to the ledger. The ticket's
// index is the count of tickets sold before it. Nothing is appended unless the mint
// succeeds.
func (r *Raffle) BuyTicket(ctx context.Context, now Snapshot, buyer ton.AccountID, issuer Issuer) (uint64, error) {
	if !r.assetsInitialized {
		return 0, ErrCollectionNotInitialized
	}
	if r.phase != PhaseOpen {
		return 0, ErrRaffleNotActive
	}
	if !r.saleStarted(now) {
		return 0, ErrSaleNotStarted
	}
	if r.saleEnded(now) {
		return 0, ErrSaleEnded
	}
	if r.total >= r.maxTickets {
		return 0, ErrNoTicketsLeft
	}
	if r.maxPerBuyer > 0 && uint64(len(r.TicketsOf(buyer))) >= r.maxPerBuyer {
		return 0, ErrTicketLimitPerUserExceeded
	}
	if r.total == math.MaxUint64 {
		return 0, ErrOverflow
	}
	index := r.total

	if err := issuer.MintTicket(ctx, index, buyer); err != nil {
		return 0, err
	}

	r.tickets = append(r.tickets, buyer)
	r.total = index + 1
	return index, nil
}
