package baskt

// Phase enumerates the lifecycle stages of a baskt.
type Phase int

const (
	PhasePending Phase = iota
	PhaseActive
	PhaseDecommissioning
	PhaseSettled
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseActive:
		return "active"
	case PhaseDecommissioning:
		return "decommissioning"
	case PhaseSettled:
		return "settled"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a tagged lifecycle state. Each variant carries only the fields
// valid in that state, so a NAV on a pending baskt is unrepresentable.
type Status interface {
	Phase() Phase
}

type Pending struct{}

func (Pending) Phase() Phase { return PhasePending }

type Active struct{}

func (Active) Phase() Phase { return PhaseActive }

// Decommissioning carries the grace-period window.
type Decommissioning struct {
	InitiatedAt    int64
	GracePeriodEnd int64
}

func (Decommissioning) Phase() Phase { return PhaseDecommissioning }

// Settled carries the NAV snapshot used as exit price for every subsequent
// force-close, plus the funding index frozen at settlement.
type Settled struct {
	SettlementPrice        int64
	SettlementFundingIndex int64
}

func (Settled) Phase() Phase { return PhaseSettled }

// Closed is terminal. FinalNav is exactly the settlement price, never
// recomputed.
type Closed struct {
	FinalNav int64
	ClosedAt int64
}

func (Closed) Phase() Phase { return PhaseClosed }
