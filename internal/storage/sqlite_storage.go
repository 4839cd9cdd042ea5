package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonkeeper/tongo/ton"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"raffle/internal/logger"
	"raffle/internal/raffle"
)

type SqliteStorage struct {
	db *gorm.DB
}

// NewSqliteStorage opens (creating if needed) the database at path and migrates it.
// A single connection is kept open so that concurrent transactions queue instead of
// failing on sqlite's write lock.
func NewSqliteStorage(path string) (*SqliteStorage, error) {
	logger.Debug("initializing database...", zap.String("path", path))

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&RaffleRecord{},
		&Ticket{},
		&WinnerEvent{},
	)
	if err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	logger.Debug("initializing database... done")
	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) DB() *gorm.DB {
	return s.db
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SqliteStorage) Transaction(ctx context.Context, fn func(tx Storage) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&SqliteStorage{db: tx})
	})
}

func (s *SqliteStorage) CreateRaffle(r *raffle.Raffle) error {
	logger.Debug("creating raffle...", zap.Stringer("address", r.Key()))

	var count int64
	err := s.db.Model(&RaffleRecord{}).Where("address = ?", r.Key().String()).Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return raffle.ErrRaffleExists
	}

	if err := s.db.Create(toRaffleRecord(r)).Error; err != nil {
		return err
	}
	if err := s.appendTickets(r); err != nil {
		return err
	}

	logger.Debug("creating raffle... done", zap.Stringer("address", r.Key()))
	return nil
}

func (s *SqliteStorage) GetRaffle(key raffle.Key) (*raffle.Raffle, error) {
	var record RaffleRecord
	err := s.db.Where("address = ?", key.String()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, raffle.ErrRaffleNotFound
	}
	if err != nil {
		return nil, err
	}

	return s.restore(&record)
}

func (s *SqliteStorage) ListRaffles() ([]*raffle.Raffle, error) {
	var records []*RaffleRecord
	if err := s.db.Order("created_at asc, address asc").Find(&records).Error; err != nil {
		return nil, err
	}

	raffles := make([]*raffle.Raffle, 0, len(records))
	for _, record := range records {
		r, err := s.restore(record)
		if err != nil {
			return nil, err
		}
		raffles = append(raffles, r)
	}
	return raffles, nil
}

// raffleMutableColumns are rewritten by SaveRaffle; identity columns and created_at
// keep the values written at creation.
var raffleMutableColumns = []string{
	"total_tickets_bought",
	"randomness",
	"randomness_source",
	"phase",
	"assets_initialized",
	"winner",
	"winner_index",
	"updated_at",
}

// SaveRaffle writes the record and any ledger entries not yet stored. Stored tickets
// are never rewritten.
func (s *SqliteStorage) SaveRaffle(r *raffle.Raffle) error {
	logger.Debug("saving raffle...", zap.Stringer("address", r.Key()), zap.Stringer("phase", r.Phase()))

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns(raffleMutableColumns),
	}).Create(toRaffleRecord(r)).Error
	if err != nil {
		return err
	}
	if err := s.appendTickets(r); err != nil {
		return err
	}

	logger.Debug("saving raffle... done", zap.Stringer("address", r.Key()))
	return nil
}

func (s *SqliteStorage) appendTickets(r *raffle.Raffle) error {
	address := r.Key().String()

	var stored int64
	err := s.db.Model(&Ticket{}).Where("raffle_address = ?", address).Count(&stored).Error
	if err != nil {
		return err
	}

	ledger := r.Tickets()
	if stored > int64(len(ledger)) {
		return fmt.Errorf("%w: %s: %d stored tickets, %d in ledger", raffle.ErrInvalidRecord, address, stored, len(ledger))
	}
	if stored == int64(len(ledger)) {
		return nil
	}

	tickets := make([]*Ticket, 0, int64(len(ledger))-stored)
	for number := stored; number < int64(len(ledger)); number++ {
		tickets = append(tickets, &Ticket{
			RaffleAddress: address,
			Number:        number,
			Buyer:         ledger[number].ToRaw(),
		})
	}

	return s.db.CreateInBatches(tickets, 100).Error
}

func (s *SqliteStorage) GetTicketsByBuyer(buyer ton.AccountID) ([]*Ticket, error) {
	var tickets []*Ticket
	err := s.db.Where("buyer = ?", buyer.ToRaw()).Order("raffle_address asc, number asc").Find(&tickets).Error
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *SqliteStorage) SaveWinnerEvent(key raffle.Key, event raffle.WinnerChosen) error {
	return s.db.Create(&WinnerEvent{
		RaffleAddress: key.String(),
		RaffleID:      int64(event.RaffleID),
		Winner:        event.Winner.ToRaw(),
		WinnerIndex:   int64(event.WinnerIndex),
	}).Error
}

func (s *SqliteStorage) GetWinnerEvent(key raffle.Key) (*WinnerEvent, error) {
	var event WinnerEvent
	err := s.db.Where("raffle_address = ?", key.String()).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *SqliteStorage) restore(record *RaffleRecord) (*raffle.Raffle, error) {
	var tickets []*Ticket
	err := s.db.Where("raffle_address = ?", record.Address).Order("number asc").Find(&tickets).Error
	if err != nil {
		return nil, err
	}

	r, err := fromRaffleRecord(record, tickets)
	if err != nil {
		logger.Error("storage: restoring raffle... failed", zap.String("address", record.Address), zap.Error(err))
		return nil, err
	}
	return r, nil
}

func toRaffleRecord(r *raffle.Raffle) *RaffleRecord {
	randomness := r.Randomness()
	record := &RaffleRecord{
		Address:            r.Key().String(),
		Authority:          r.Authority().ToRaw(),
		RaffleID:           int64(r.ID()),
		Name:               r.Name(),
		SaleStart:          int64(r.SaleStart()),
		SaleEnd:            r.SaleEnd(),
		Price:              int64(r.Price()),
		MaxTickets:         int64(r.MaxTickets()),
		MaxTicketsPerBuyer: int64(r.MaxTicketsPerBuyer()),
		TotalTicketsBought: int64(r.TotalTicketsBought()),
		Randomness:         randomness[:],
		RandomnessSource:   uint8(r.RandomnessSource()),
		Phase:              uint8(r.Phase()),
		AssetsInitialized:  r.AssetsInitialized(),
		PrizeAmount:        int64(r.PrizeAmount()),
	}
	if oracle, ok := r.Oracle(); ok {
		record.Oracle = oracle.ToRaw()
	}
	if winner, index, ok := r.Winner(); ok {
		record.Winner = winner.ToRaw()
		record.WinnerIndex = int64(index)
	}
	return record
}

func fromRaffleRecord(record *RaffleRecord, tickets []*Ticket) (*raffle.Raffle, error) {
	key, err := raffle.ParseKey(record.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", raffle.ErrInvalidRecord, err)
	}

	authority, err := ton.ParseAccountID(record.Authority)
	if err != nil {
		return nil, fmt.Errorf("%w: authority: %v", raffle.ErrInvalidRecord, err)
	}

	if len(record.Randomness) != raffle.SeedSize {
		return nil, fmt.Errorf("%w: randomness is %d bytes", raffle.ErrInvalidRecord, len(record.Randomness))
	}

	out := raffle.Record{
		Key:                key,
		Authority:          authority,
		RaffleID:           uint64(record.RaffleID),
		Name:               record.Name,
		SaleStart:          uint64(record.SaleStart),
		SaleEnd:            record.SaleEnd,
		Price:              uint64(record.Price),
		MaxTickets:         uint64(record.MaxTickets),
		MaxTicketsPerBuyer: uint64(record.MaxTicketsPerBuyer),
		TotalTicketsBought: uint64(record.TotalTicketsBought),
		RandomnessSource:   raffle.Mode(record.RandomnessSource),
		Phase:              raffle.Phase(record.Phase),
		AssetsInitialized:  record.AssetsInitialized,
		WinnerIndex:        uint64(record.WinnerIndex),
		PrizeAmount:        uint64(record.PrizeAmount),
	}
	copy(out.Randomness[:], record.Randomness)

	if record.Oracle != "" {
		oracle, err := ton.ParseAccountID(record.Oracle)
		if err != nil {
			return nil, fmt.Errorf("%w: oracle: %v", raffle.ErrInvalidRecord, err)
		}
		out.Oracle = &oracle
	}

	if record.Winner != "" {
		winner, err := ton.ParseAccountID(record.Winner)
		if err != nil {
			return nil, fmt.Errorf("%w: winner: %v", raffle.ErrInvalidRecord, err)
		}
		out.Winner = winner
	}

	out.Tickets = make([]ton.AccountID, 0, len(tickets))
	for i, ticket := range tickets {
		if ticket.Number != int64(i) {
			return nil, fmt.Errorf("%w: ticket %d stored at position %d", raffle.ErrInvalidRecord, ticket.Number, i)
		}
		buyer, err := ton.ParseAccountID(ticket.Buyer)
		if err != nil {
			return nil, fmt.Errorf("%w: buyer: %v", raffle.ErrInvalidRecord, err)
		}
		out.Tickets = append(out.Tickets, buyer)
	}

	return raffle.Restore(out)
}
