// Package raffle implements the raffle state machine: bounded ticket accounting, the
// commit-reveal randomness protocol, deterministic winner selection and one-shot prize
// settlement. It owns no storage, clock or issuance; those arrive through Snapshot and
// Issuer, and every operation either fully applies or leaves the raffle untouched.
package raffle

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/tonkeeper/tongo/ton"
	"golang.org/x/crypto/sha3"
)

const (
	MaxNameLength     = 50
	MaxTicketCapacity = 100
	PrizeAmount       = 10
	SeedSize          = 32
)

// Key is the address of a raffle record, derived from its authority and identifier.
type Key [32]byte

func DeriveKey(authority ton.AccountID, raffleID uint64) Key {
	var workchain [4]byte
	binary.LittleEndian.PutUint32(workchain[:], uint32(authority.Workchain))
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], raffleID)

	var key Key
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte("raffle"))
	hash.Write(authority.Address[:])
	hash.Write(workchain[:])
	hash.Write(id[:])
	hash.Sum(key[:0])
	return key
}

func ParseKey(s string) (Key, error) {
	var key Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("raffle: parse key: %w", err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("raffle: parse key: expected %d bytes, got %d", len(key), len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Snapshot is the clock reading an operation runs against. Slot is a host-supplied
// execution counter that increases monotonically.
type Snapshot struct {
	Unix int64
	Slot uint64
}

type Clock interface {
	Now() Snapshot
}

// Issuer mints the raffle's assets. It is bound to the raffle's own issuance authority,
// so callers of the raffle never hold minting rights themselves.
type Issuer interface {
	MintCollection(ctx context.Context) error
	MintTicket(ctx context.Context, index uint64, owner ton.AccountID) error
	MintPrize(ctx context.Context, owner ton.AccountID) error
}

type Params struct {
	RaffleID  uint64
	Name      string
	SaleStart uint64
	SaleEnd   int64
	Price     uint64

	MaxTickets uint64
	// MaxTicketsPerBuyer caps tickets per identity; zero leaves only the global cap.
	MaxTicketsPerBuyer uint64
	// Oracle pins the only account real-mode randomness may be read from.
	Oracle *ton.AccountID
}

type Raffle struct {
	key       Key
	authority ton.AccountID
	id        uint64
	name      string
	saleStart uint64
	saleEnd   int64
	price     uint64

	maxTickets  uint64
	maxPerBuyer uint64
	oracle      *ton.AccountID

	tickets []ton.AccountID
	total   uint64

	randomness [SeedSize]byte
	source     Mode
	phase      Phase

	assetsInitialized bool

	winner      ton.AccountID
	winnerIndex uint64
	prizeAmount uint64
}

func (p Params) validate() error {
	if len(p.Name) > MaxNameLength {
		return ErrInvalidName
	}
	if p.MaxTickets == 0 || p.MaxTickets > MaxTicketCapacity {
		return ErrInvalidCapacity
	}
	if p.MaxTicketsPerBuyer > p.MaxTickets {
		return ErrInvalidCapacity
	}
	// A negative end is accepted and leaves the sale already closed.
	if p.SaleEnd >= 0 && uint64(p.SaleEnd) < p.SaleStart {
		return ErrInvalidSaleWindow
	}
	return nil
}

// New configures a raffle owned by authority. It starts open, with no tickets and the
// all-zero seed that marks randomness as uncommitted.
func New(authority ton.AccountID, params Params) (*Raffle, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	r := &Raffle{
		key:         DeriveKey(authority, params.RaffleID),
		authority:   authority,
		id:          params.RaffleID,
		name:        params.Name,
		saleStart:   params.SaleStart,
		saleEnd:     params.SaleEnd,
		price:       params.Price,
		maxTickets:  params.MaxTickets,
		maxPerBuyer: params.MaxTicketsPerBuyer,
		tickets:     make([]ton.AccountID, 0, params.MaxTickets),
		phase:       PhaseOpen,
		prizeAmount: PrizeAmount,
	}
	if params.Oracle != nil {
		oracle := *params.Oracle
		r.oracle = &oracle
	}
	return r, nil
}

func (r *Raffle) Key() Key                 { return r.key }
func (r *Raffle) Authority() ton.AccountID { return r.authority }
func (r *Raffle) ID() uint64               { return r.id }
func (r *Raffle) Name() string             { return r.name }
func (r *Raffle) SaleStart() uint64        { return r.saleStart }
func (r *Raffle) SaleEnd() int64           { return r.saleEnd }
func (r *Raffle) Price() uint64            { return r.price }
func (r *Raffle) MaxTickets() uint64       { return r.maxTickets }
func (r *Raffle) MaxTicketsPerBuyer() uint64 { return r.maxPerBuyer }
func (r *Raffle) TotalTicketsBought() uint64 { return r.total }
func (r *Raffle) PrizeAmount() uint64        { return r.prizeAmount }
func (r *Raffle) Phase() Phase               { return r.phase }
func (r *Raffle) AssetsInitialized() bool    { return r.assetsInitialized }
func (r *Raffle) Randomness() [SeedSize]byte { return r.randomness }
func (r *Raffle) RandomnessSource() Mode     { return r.source }

func (r *Raffle) Oracle() (ton.AccountID, bool) {
	if r.oracle == nil {
		return ton.AccountID{}, false
	}
	return *r.oracle, true
}

// Tickets returns a copy of the ticket ledger in purchase order.
func (r *Raffle) Tickets() []ton.AccountID {
	return append([]ton.AccountID(nil), r.tickets...)
}

// TicketsOf returns the ledger indices owned by owner.
func (r *Raffle) TicketsOf(owner ton.AccountID) []uint64 {
	var indices []uint64
	for i, buyer := range r.tickets {
		if buyer == owner {
			indices = append(indices, uint64(i))
		}
	}
	return indices
}

func (r *Raffle) IsActive() bool            { return r.phase < PhaseWinnerChosen }
func (r *Raffle) RandomnessCommitted() bool { return r.phase >= PhaseRandomnessCommitted }
func (r *Raffle) WinnerChosen() bool        { return r.phase >= PhaseWinnerChosen }
func (r *Raffle) Claimed() bool             { return r.phase == PhaseClaimed }

// Winner returns the recorded winner and its ledger index once one has been chosen.
func (r *Raffle) Winner() (ton.AccountID, uint64, bool) {
	if !r.WinnerChosen() {
		return ton.AccountID{}, 0, false
	}
	return r.winner, r.winnerIndex, true
}

func (r *Raffle) hasSeed() bool {
	return r.randomness != [SeedSize]byte{}
}
