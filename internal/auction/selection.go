package auction

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// Quote is a validated solver quote as recorded by the coordinator.
type Quote struct {
	SolverID string
	Price    decimal.Decimal
	Size     decimal.Decimal
	FeeBps   int64
	// VenueFeeBps is the catalog fee of Venue, charged on top of FeeBps.
	VenueFeeBps  int64
	FundingBps8h int64
	SlippageBps  int64
	Venue        string
	Chain        string
	Expiry       time.Time
	ReceivedAt   time.Time
	// Seq is the arrival order across all auctions.
	Seq int64
}

// TotalFeeBps is the solver fee plus the venue fee.
func (q Quote) TotalFeeBps() int64 {
	return q.FeeBps + q.VenueFeeBps
}

// CostBps is the sum of the quote's fee, funding and slippage costs.
func (q Quote) CostBps() int64 {
	return q.TotalFeeBps() + q.FundingBps8h + q.SlippageBps
}

// score ranks q for side; lower is better. Buyers pay
// price * (1 + cost), sellers receive price * (1 - cost), negated so the
// best proceeds sort lowest.
func score(q Quote, side intent.Side) decimal.Decimal {
	cost := decimal.NewFromInt(q.CostBps()).Div(bpsDenominator)
	if side.Buys() {
		return q.Price.Mul(decimal.NewFromInt(1).Add(cost))
	}
	return q.Price.Mul(decimal.NewFromInt(1).Sub(cost)).Neg()
}

// violation returns why q breaks the intent constraints, or "" if it does not.
func violation(q Quote, c intent.Constraints) string {
	switch {
	case q.TotalFeeBps() > c.MaxFeeBps:
		return fmt.Sprintf("fee %dbps exceeds max_fee_bps %d", q.TotalFeeBps(), c.MaxFeeBps)
	case q.FundingBps8h > c.MaxFundingBps8h:
		return fmt.Sprintf("funding %dbps exceeds max_funding_bps_8h %d", q.FundingBps8h, c.MaxFundingBps8h)
	case q.SlippageBps > c.MaxSlippageBps:
		return fmt.Sprintf("slippage %dbps exceeds max_slippage_bps %d", q.SlippageBps, c.MaxSlippageBps)
	}
	return ""
}

// exclusion records a quote dropped during selection.
type exclusion struct {
	SolverID string
	Reason   string
}

// selectWinner picks the lowest-score quote among those that satisfy the
// intent constraints and are unexpired at now. Equal scores go to the
// earlier arrival.
func selectWinner(quotes []Quote, in *intent.Intent, now time.Time) (Quote, bool, []exclusion) {
	var (
		best     Quote
		bestCost decimal.Decimal
		found    bool
		excluded []exclusion
	)
	for _, q := range quotes {
		if reason := violation(q, in.Derivatives.Constraints); reason != "" {
			excluded = append(excluded, exclusion{SolverID: q.SolverID, Reason: reason})
			continue
		}
		if !q.Expiry.After(now) {
			excluded = append(excluded, exclusion{SolverID: q.SolverID, Reason: "quote expired"})
			continue
		}
		s := score(q, in.Derivatives.Side)
		if !found || s.LessThan(bestCost) || (s.Equal(bestCost) && q.Seq < best.Seq) {
			best, bestCost, found = q, s, true
		}
	}
	return best, found, excluded
}
