package raffle

import (
	"github.com/holiman/uint256"
	"github.com/tonkeeper/tongo/ton"
)

// WinnerChosen is announced once per raffle when the winner is revealed.
type WinnerChosen struct {
	RaffleID    uint64
	Winner      ton.AccountID
	WinnerIndex uint64
}

// SelectWinner reads the first 16 bytes of seed as a little-endian uint128 v and
// returns ledger[v mod len(ledger)].
//
// The reduction is biased towards low indices by at most len(ledger)/2^128, which is
// negligible for ledgers of at most 100 entries. Changing the mapping would change the
// winner for an already committed seed, so it is kept as is.
func SelectWinner(seed [SeedSize]byte, ledger []ton.AccountID) (ton.AccountID, uint64, error) {
	if len(ledger) == 0 {
		return ton.AccountID{}, 0, ErrNoTicketsBought
	}

	v := fromLittleEndian128(seed[:16])
	index := new(uint256.Int).Mod(v, uint256.NewInt(uint64(len(ledger)))).Uint64()
	return ledger[index], index, nil
}

// RevealWinner draws the winner from the committed seed and closes the raffle.
func (r *Raffle) RevealWinner(now Snapshot, caller ton.AccountID) (WinnerChosen, error) {
	if caller != r.authority {
		return WinnerChosen{}, ErrNotAuthorized
	}
	if !r.saleEnded(now) {
		return WinnerChosen{}, ErrRaffleStillActive
	}
	if r.phase >= PhaseWinnerChosen {
		return WinnerChosen{}, ErrWinnerAlreadyChosen
	}
	if r.total == 0 {
		return WinnerChosen{}, ErrNoTicketsBought
	}
	if r.phase != PhaseRandomnessCommitted || !r.hasSeed() {
		return WinnerChosen{}, ErrRandomnessNotCommitted
	}
	if uint64(len(r.tickets)) != r.total {
		return WinnerChosen{}, ErrInvalidTicketData
	}

	winner, index, err := SelectWinner(r.randomness, r.tickets)
	if err != nil {
		return WinnerChosen{}, err
	}

	if err := r.advance(PhaseWinnerChosen); err != nil {
		return WinnerChosen{}, err
	}
	r.winner = winner
	r.winnerIndex = index

	return WinnerChosen{RaffleID: r.id, Winner: winner, WinnerIndex: index}, nil
}
