package raffle

import (
	"context"

	"github.com/tonkeeper/tongo/ton"
)

// ClaimPrize mints the prize to claimant, who must be the recorded winner.
func (r *Raffle) ClaimPrize(ctx context.Context, now Snapshot, claimant ton.AccountID, issuer Issuer) error {
	if !r.saleEnded(now) {
		return ErrRaffleStillActive
	}
	if r.phase == PhaseClaimed {
		return ErrAlreadyClaimed
	}
	if r.phase != PhaseWinnerChosen {
		return ErrWinnerNotChosen
	}
	if !r.hasSeed() {
		return ErrRandomnessNotCommitted
	}
	if claimant != r.winner {
		return ErrNotWinner
	}

	if err := issuer.MintPrize(ctx, claimant); err != nil {
		return err
	}

	return r.advance(PhaseClaimed)
}
