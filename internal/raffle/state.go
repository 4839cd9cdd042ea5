package raffle

// Phase is the persisted position of a raffle in its one-way lifecycle. It replaces the
// randomness_committed, winner_chosen, is_active and claimed flags: each flag is set
// exactly when the phase moves past it, and the phase never moves backwards.
type Phase uint8

const (
	PhaseOpen Phase = iota
	PhaseRandomnessCommitted
	PhaseWinnerChosen
	PhaseClaimed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseRandomnessCommitted:
		return "randomness-committed"
	case PhaseWinnerChosen:
		return "winner-chosen"
	case PhaseClaimed:
		return "claimed"
	default:
		return "invalid"
	}
}

func (p Phase) valid() bool {
	return p <= PhaseClaimed
}

// State is the observable lifecycle position, derived from the phase and the clock.
type State uint8

const (
	StateCreated State = iota
	StateSelling
	StateClosed
	StateRandomnessCommitted
	StateWinnerChosen
	StateClaimed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSelling:
		return "selling"
	case StateClosed:
		return "closed"
	case StateRandomnessCommitted:
		return "randomness-committed"
	case StateWinnerChosen:
		return "winner-chosen"
	case StateClaimed:
		return "claimed"
	default:
		return "invalid"
	}
}

// advance moves the raffle exactly one phase forward.
func (r *Raffle) advance(to Phase) error {
	if to != r.phase+1 || !to.valid() {
		switch r.phase {
		case PhaseOpen:
			return ErrRaffleNotActive
		case PhaseRandomnessCommitted:
			return ErrRandomnessAlreadyCommitted
		case PhaseWinnerChosen:
			return ErrWinnerAlreadyChosen
		default:
			return ErrAlreadyClaimed
		}
	}
	r.phase = to
	return nil
}

// State reports where the raffle stands at the given instant.
func (r *Raffle) State(now Snapshot) State {
	switch r.phase {
	case PhaseClaimed:
		return StateClaimed
	case PhaseWinnerChosen:
		return StateWinnerChosen
	case PhaseRandomnessCommitted:
		return StateRandomnessCommitted
	}

	switch {
	case !r.saleStarted(now):
		return StateCreated
	case r.saleEnded(now):
		return StateClosed
	default:
		return StateSelling
	}
}

func (r *Raffle) saleStarted(now Snapshot) bool {
	return now.Unix >= 0 && uint64(now.Unix) >= r.saleStart
}

func (r *Raffle) saleEnded(now Snapshot) bool {
	return now.Unix >= r.saleEnd
}
