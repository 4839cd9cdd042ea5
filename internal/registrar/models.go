package registrar

import "time"

type AssetKind string

const (
	AssetCollection AssetKind = "collection"
	AssetTicket     AssetKind = "ticket"
	AssetPrize      AssetKind = "prize"
)

// Asset is one minted unit. Address is the keccak sub-identifier of the unit, so a
// second mint of the same unit collides on the primary key.
type Asset struct {
	Address       string    `gorm:"primaryKey"`
	Kind          AssetKind `gorm:"not null;index"`
	RaffleAddress string    `gorm:"not null;index"`
	Owner         string    `gorm:"not null;index"`
	Number        int64     `gorm:"default:0"`
	Supply        int64     `gorm:"not null"`
	Metadata      string
	ReceiptID     string `gorm:"not null;uniqueIndex"`
	CreatedAt     time.Time
}

type Edition struct {
	AssetAddress string `gorm:"primaryKey"`
	MaxSupply    int64  `gorm:"not null"`
	CreatedAt    time.Time
}
