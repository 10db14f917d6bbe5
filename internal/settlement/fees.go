package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var bps = decimal.NewFromInt(10_000)

// FeeSchedule is the protocol fee taken from each settled fill. Amounts are
// in collateral units; rates are basis points of notional.
type FeeSchedule struct {
	ProtocolFeeBps  int64
	SolverRebateBps int64
	// MinFee is the floor on the protocol fee.
	MinFee decimal.Decimal
	// MaxFeeBps caps the protocol fee, floor included. Zero means no cap.
	MaxFeeBps int64
	Treasury  string
}

// Validate reports a schedule that cannot be applied.
func (f FeeSchedule) Validate() error {
	switch {
	case f.ProtocolFeeBps < 0 || f.ProtocolFeeBps > 10_000:
		return fmt.Errorf("protocol_fee_bps %d outside [0, 10000]", f.ProtocolFeeBps)
	case f.SolverRebateBps < 0 || f.SolverRebateBps > f.ProtocolFeeBps:
		return fmt.Errorf("solver_rebate_bps %d outside [0, protocol_fee_bps]", f.SolverRebateBps)
	case f.MaxFeeBps < 0 || f.MaxFeeBps > 10_000:
		return fmt.Errorf("max_fee_bps %d outside [0, 10000]", f.MaxFeeBps)
	case f.MinFee.IsNegative():
		return fmt.Errorf("min_fee %s is negative", f.MinFee)
	case f.Treasury == "" && (f.ProtocolFeeBps > 0 || f.MinFee.IsPositive()):
		return fmt.Errorf("treasury is required when a fee is charged")
	}
	return nil
}

// Breakdown is the fee split of one settlement.
type Breakdown struct {
	Notional     string `json:"notional"`
	ProtocolFee  string `json:"protocol_fee"`
	SolverRebate string `json:"solver_rebate"`
	TreasuryNet  string `json:"treasury_net"`
	Treasury     string `json:"treasury,omitempty"`
}

// Apply splits the fee on notional. The rebate is paid out of the protocol
// fee, so it never exceeds it.
func (f FeeSchedule) Apply(notional decimal.Decimal) Breakdown {
	fee := notional.Mul(decimal.NewFromInt(f.ProtocolFeeBps)).Div(bps)
	if fee.LessThan(f.MinFee) {
		fee = f.MinFee
	}
	if f.MaxFeeBps > 0 {
		fee = decimal.Min(fee, notional.Mul(decimal.NewFromInt(f.MaxFeeBps)).Div(bps))
	}
	rebate := decimal.Min(fee, notional.Mul(decimal.NewFromInt(f.SolverRebateBps)).Div(bps))
	return Breakdown{
		Notional:     notional.String(),
		ProtocolFee:  fee.String(),
		SolverRebate: rebate.String(),
		TreasuryNet:  fee.Sub(rebate).String(),
		Treasury:     f.Treasury,
	}
}
