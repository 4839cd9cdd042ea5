package raffle

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tonkeeper/tongo/ton"
)

// Mode selects where committed randomness comes from.
type Mode uint8

const (
	ModeNone Mode = iota
	// ModeMock mixes the clock, raffle id and slot. It is predictable and only fit for
	// tests and replays.
	ModeMock
	// ModeReal copies the seed out of a randomness oracle account.
	ModeReal
)

func (m Mode) String() string {
	switch m {
	case ModeMock:
		return "mock"
	case ModeReal:
		return "real"
	default:
		return "none"
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "mock":
		return ModeMock, nil
	case "real":
		return ModeReal, nil
	default:
		return ModeNone, fmt.Errorf("raffle: unknown randomness mode %q", s)
	}
}

const (
	oracleSeedOffset = 8
	oracleMinLength  = oracleSeedOffset + SeedSize
)

// OracleAccount is a raw snapshot of a randomness oracle account. Only its shape is
// checked: the seed is trusted to be whatever sits at bytes 8..40.
type OracleAccount struct {
	Address ton.AccountID
	Data    []byte
}

var (
	two128  = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	mask128 = new(uint256.Int).Sub(two128, uint256.NewInt(1))
)

// MockRandomness computes (now * raffleID + slot) mod 2^128, with now sign-extended to
// 128 bits, and returns it little-endian.
func MockRandomness(now int64, raffleID, slot uint64) [16]byte {
	v := new(uint256.Int).Mul(signExtend128(now), uint256.NewInt(raffleID))
	v.Add(v, uint256.NewInt(slot))
	v.And(v, mask128)
	return littleEndian128(v)
}

func signExtend128(x int64) *uint256.Int {
	if x >= 0 {
		return uint256.NewInt(uint64(x))
	}
	// uint64(-x) is the magnitude even for math.MinInt64.
	return new(uint256.Int).Sub(two128, uint256.NewInt(uint64(-x)))
}

func littleEndian128(v *uint256.Int) [16]byte {
	be := v.Bytes32()
	var out [16]byte
	for i := range out {
		out[i] = be[31-i]
	}
	return out
}

func fromLittleEndian128(b []byte) *uint256.Int {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[15-i] = b[i]
	}
	return new(uint256.Int).SetBytes(be)
}

// CommitRandomness fixes the seed the winner will be drawn from. It is only possible
// for the authority, after the sale has ended, and only once.
//
// In mock mode only the first 16 bytes are written; the rest keep their previous
// value. In real mode the whole seed is taken from account.Data[8:40].
func (r *Raffle) CommitRandomness(now Snapshot, caller ton.AccountID, mode Mode, account *OracleAccount) error {
	if caller != r.authority {
		return ErrNotAuthorized
	}
	if !r.saleEnded(now) {
		return ErrRaffleStillActive
	}
	switch r.phase {
	case PhaseOpen:
	case PhaseRandomnessCommitted:
		return ErrRandomnessAlreadyCommitted
	default:
		return ErrRaffleNotActive
	}

	seed := r.randomness
	switch mode {
	case ModeMock:
		mixed := MockRandomness(now.Unix, r.id, now.Slot)
		copy(seed[:16], mixed[:])
	case ModeReal:
		if account == nil {
			return ErrMissingRandomnessAccount
		}
		if r.oracle != nil && account.Address != *r.oracle {
			return ErrInvalidRandomnessAccount
		}
		if len(account.Data) < oracleMinLength {
			return ErrInvalidRandomnessAccount
		}
		copy(seed[:], account.Data[oracleSeedOffset:oracleMinLength])
	default:
		return fmt.Errorf("raffle: unknown randomness mode %d", mode)
	}

	// a zero seed reads as uncommitted and could never be revealed
	if seed == ([SeedSize]byte{}) {
		return ErrZeroRandomness
	}

	if err := r.advance(PhaseRandomnessCommitted); err != nil {
		return err
	}
	r.randomness = seed
	r.source = mode
	return nil
}
