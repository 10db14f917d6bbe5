// Package events emits NEP-297 style event envelopes for auction lifecycle
// transitions and fans them out to sinks off the auction hot path.
package events

import "encoding/json"

// Envelope constants.
const (
	Standard = "deltanear_derivatives"
	Version  = "1.0.0"
)

// Name identifies an event kind.
type Name string

const (
	IntentSubmitted     Name = "intent_submitted"
	QuotesRequested     Name = "quotes_requested"
	SolverAssigned      Name = "solver_assigned"
	SimulationCompleted Name = "simulation_completed"
	ExecutionLogged     Name = "execution_logged"
	AuctionFailed       Name = "auction_failed"
	SettlementInitiated Name = "settlement_initiated"
	SettlementCompleted Name = "settlement_completed"
)

// Event is the NEP-297 envelope.
type Event struct {
	Standard string `json:"standard"`
	Version  string `json:"version"`
	Event    Name   `json:"event"`
	Data     []any  `json:"data"`
}

// New wraps one data record in an envelope.
func New(name Name, data any) Event {
	return Event{Standard: Standard, Version: Version, Event: name, Data: []any{data}}
}

// JSON renders the envelope.
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher accepts events. Implementations must not block the caller on I/O.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// IntentSubmittedData accompanies IntentSubmitted.
type IntentSubmittedData struct {
	IntentHash  string `json:"intent_hash"`
	SignerID    string `json:"signer_id"`
	Instrument  string `json:"instrument"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// QuotesRequestedData accompanies QuotesRequested.
type QuotesRequestedData struct {
	IntentHash  string   `json:"intent_hash"`
	Solvers     []string `json:"solvers"`
	Deadline    string   `json:"deadline"`
	TimestampNs int64    `json:"timestamp_ns"`
}

// SolverAssignedData accompanies SolverAssigned.
type SolverAssignedData struct {
	IntentHash       string `json:"intent_hash"`
	SolverID         string `json:"solver_id"`
	Venue            string `json:"venue"`
	Price            string `json:"price"`
	ExclusivityUntil string `json:"exclusivity_until"`
	TimestampNs      int64  `json:"timestamp_ns"`
}

// SimulationCompletedData accompanies SimulationCompleted. SimulationHash
// is the metadata checksum the winner must echo.
type SimulationCompletedData struct {
	IntentHash     string `json:"intent_hash"`
	SimulationHash string `json:"simulation_hash"`
	Success        bool   `json:"success"`
	TimestampNs    int64  `json:"timestamp_ns"`
}

// ExecutionLoggedData accompanies ExecutionLogged.
type ExecutionLoggedData struct {
	IntentHash  string `json:"intent_hash"`
	SolverID    string `json:"solver_id"`
	Venue       string `json:"venue"`
	FillPrice   string `json:"fill_price,omitempty"`
	Notional    string `json:"notional,omitempty"`
	Status      string `json:"status"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// AuctionFailedData accompanies AuctionFailed.
type AuctionFailedData struct {
	IntentHash  string `json:"intent_hash"`
	Reason      string `json:"reason"`
	TimestampNs int64  `json:"timestamp_ns"`
}

// SettlementInitiatedData accompanies SettlementInitiated. The fee fields
// are set only when a fee schedule applies.
type SettlementInitiatedData struct {
	IntentHash   string `json:"intent_hash"`
	SolverID     string `json:"solver_id"`
	ProtocolFee  string `json:"protocol_fee,omitempty"`
	SolverRebate string `json:"solver_rebate,omitempty"`
	Treasury     string `json:"treasury,omitempty"`
	TimestampNs  int64  `json:"timestamp_ns"`
}

// SettlementCompletedData accompanies SettlementCompleted.
type SettlementCompletedData struct {
	IntentHash  string `json:"intent_hash"`
	Outcome     string `json:"outcome"`
	Reference   string `json:"reference,omitempty"`
	Reason      string `json:"reason,omitempty"`
	TimestampNs int64  `json:"timestamp_ns"`
}
