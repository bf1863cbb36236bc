package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	PositionsOpened Counter
	PositionsClosed Counter
	Liquidations    Counter
	ForceCloses     Counter
	BadDebt         Counter
	FundingUpdates  Counter
	Rebalances      Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		PositionsOpened: n,
		PositionsClosed: n,
		Liquidations:    n,
		ForceCloses:     n,
		BadDebt:         n,
		FundingUpdates:  n,
		Rebalances:      n,
	}
}
