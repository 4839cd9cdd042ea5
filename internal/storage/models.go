package storage

import "time"

// RaffleRecord is one raffle. Unsigned counters are stored bit-for-bit in int64
// columns because the sqlite driver rejects uint64 values with the high bit set.
type RaffleRecord struct {
	Address            string `gorm:"primaryKey"`
	Authority          string `gorm:"not null;uniqueIndex:idx_authority_raffle_id"`
	RaffleID           int64  `gorm:"not null;uniqueIndex:idx_authority_raffle_id"`
	Name               string `gorm:"size:50;not null"`
	SaleStart          int64  `gorm:"not null"`
	SaleEnd            int64  `gorm:"not null"`
	Price              int64  `gorm:"default:0"`
	MaxTickets         int64  `gorm:"not null"`
	MaxTicketsPerBuyer int64  `gorm:"default:0"`
	Oracle             string
	TotalTicketsBought int64  `gorm:"default:0"`
	Randomness         []byte `gorm:"not null"`
	RandomnessSource   uint8  `gorm:"default:0"`
	Phase              uint8  `gorm:"default:0"`
	AssetsInitialized  bool   `gorm:"default:false"`
	Winner             string
	WinnerIndex        int64 `gorm:"default:0"`
	PrizeAmount        int64 `gorm:"default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Ticket struct {
	RaffleAddress string `gorm:"primaryKey"`
	Number        int64  `gorm:"primaryKey;autoIncrement:false"`
	Buyer         string `gorm:"not null;index"`
	CreatedAt     time.Time
}

type WinnerEvent struct {
	RaffleAddress string `gorm:"primaryKey"`
	RaffleID      int64  `gorm:"not null"`
	Winner        string `gorm:"not null"`
	WinnerIndex   int64  `gorm:"not null"`
	CreatedAt     time.Time
}
