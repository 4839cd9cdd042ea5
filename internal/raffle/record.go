package raffle

import (
	"fmt"

	"github.com/tonkeeper/tongo/ton"
)

// Record is the persisted form of a raffle.
type Record struct {
	Key                Key
	Authority          ton.AccountID
	RaffleID           uint64
	Name               string
	SaleStart          uint64
	SaleEnd            int64
	Price              uint64
	MaxTickets         uint64
	MaxTicketsPerBuyer uint64
	Oracle             *ton.AccountID
	Tickets            []ton.AccountID
	TotalTicketsBought uint64
	Randomness         [SeedSize]byte
	RandomnessSource   Mode
	Phase              Phase
	AssetsInitialized  bool
	Winner             ton.AccountID
	WinnerIndex        uint64
	PrizeAmount        uint64
}

func (r *Raffle) Record() Record {
	record := Record{
		Key:                r.key,
		Authority:          r.authority,
		RaffleID:           r.id,
		Name:               r.name,
		SaleStart:          r.saleStart,
		SaleEnd:            r.saleEnd,
		Price:              r.price,
		MaxTickets:         r.maxTickets,
		MaxTicketsPerBuyer: r.maxPerBuyer,
		Tickets:            r.Tickets(),
		TotalTicketsBought: r.total,
		Randomness:         r.randomness,
		RandomnessSource:   r.source,
		Phase:              r.phase,
		AssetsInitialized:  r.assetsInitialized,
		Winner:             r.winner,
		WinnerIndex:        r.winnerIndex,
		PrizeAmount:        r.prizeAmount,
	}
	if oracle, ok := r.Oracle(); ok {
		record.Oracle = &oracle
	}
	return record
}

// Restore rebuilds a raffle from storage, refusing records that break the ledger,
// phase or addressing invariants.
func Restore(record Record) (*Raffle, error) {
	invalid := func(reason string) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidRecord, record.Key, reason)
	}

	params := Params{
		RaffleID:           record.RaffleID,
		Name:               record.Name,
		SaleStart:          record.SaleStart,
		SaleEnd:            record.SaleEnd,
		Price:              record.Price,
		MaxTickets:         record.MaxTickets,
		MaxTicketsPerBuyer: record.MaxTicketsPerBuyer,
		Oracle:             record.Oracle,
	}
	r, err := New(record.Authority, params)
	if err != nil {
		return nil, invalid(err.Error())
	}

	switch {
	case r.key != record.Key:
		return nil, invalid("key does not match authority and raffle id")
	case !record.Phase.valid():
		return nil, invalid("unknown phase")
	case record.TotalTicketsBought > record.MaxTickets:
		return nil, invalid("ticket count exceeds capacity")
	case uint64(len(record.Tickets)) != record.TotalTicketsBought:
		return nil, invalid("ticket ledger length differs from ticket count")
	case record.Phase >= PhaseWinnerChosen && record.WinnerIndex >= record.TotalTicketsBought:
		return nil, invalid("winner index outside ticket ledger")
	case record.Phase >= PhaseWinnerChosen && record.Tickets[record.WinnerIndex] != record.Winner:
		return nil, invalid("winner differs from ledger entry")
	}

	r.tickets = append(r.tickets, record.Tickets...)
	r.total = record.TotalTicketsBought
	r.randomness = record.Randomness
	r.source = record.RandomnessSource
	r.phase = record.Phase
	r.assetsInitialized = record.AssetsInitialized
	r.winner = record.Winner
	r.winnerIndex = record.WinnerIndex
	r.prizeAmount = record.PrizeAmount
	return r, nil
}
