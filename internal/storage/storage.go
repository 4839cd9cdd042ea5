package storage

import (
	"context"

	"github.com/tonkeeper/tongo/ton"
	"gorm.io/gorm"

	"raffle/internal/raffle"
)

type Storage interface {
	// raffle
	CreateRaffle(r *raffle.Raffle) error
	GetRaffle(key raffle.Key) (*raffle.Raffle, error)
	SaveRaffle(r *raffle.Raffle) error
	ListRaffles() ([]*raffle.Raffle, error)

	// ticket
	GetTicketsByBuyer(buyer ton.AccountID) ([]*Ticket, error)

	// winner event
	SaveWinnerEvent(key raffle.Key, event raffle.WinnerChosen) error
	GetWinnerEvent(key raffle.Key) (*WinnerEvent, error)

	// Transaction runs fn against a storage bound to a single database transaction,
	// committing when fn returns nil and rolling back otherwise.
	Transaction(ctx context.Context, fn func(tx Storage) error) error
	DB() *gorm.DB
}
