package protocol

import (
	"encoding/json"

	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
)

// MessageType is the envelope discriminator.
type MessageType string

// Solver to core.
const (
	TypeRegister        MessageType = "register"
	TypeHeartbeat       MessageType = "heartbeat"
	TypeQuote           MessageType = "quote"
	TypeExecutionResult MessageType = "execution_result"
)

// Core to solver.
const (
	TypeRegistered   MessageType = "registered"
	TypeQuoteRequest MessageType = "quote_request"
	TypeAward        MessageType = "award"
	TypeExecute      MessageType = "execute"
	TypeError        MessageType = "error"
)

// SolverMessage is a message a solver sends.
// Only Register, Heartbeat, Quote and ExecutionResult implement it.
type SolverMessage interface {
	Type() MessageType
	solverMessage()
}

// ServerMessage is a message the core sends to a solver.
// Only Registered, QuoteRequest, Award, Execute and Error implement it.
type ServerMessage interface {
	Type() MessageType
	serverMessage()
}

// Register announces a solver and its capabilities.
type Register struct {
	ID              string   `json:"id"`
	SupportedVenues []string `json:"supported_venues"`
	// MaxExposure is a decimal size cap; empty or "0" means unlimited.
	MaxExposure string `json:"max_exposure,omitempty"`
}

// Heartbeat refreshes liveness.
type Heartbeat struct{}

// Quote is a priced offer for one intent.
type Quote struct {
	IntentHash   intent.Hash `json:"intent_hash"`
	Price        string      `json:"price"`
	Size         string      `json:"size"`
	FeeBps       int64       `json:"fee_bps"`
	FundingBps8h int64       `json:"funding_bps_8h"`
	SlippageBps  int64       `json:"slippage_bps"`
	Venue        string      `json:"venue"`
	Chain        string      `json:"chain"`
	// Expiry is an RFC 3339 instant after which the quote is void.
	Expiry string `json:"expiry"`
}

// Execution outcomes reported by solvers.
const (
	ExecutionSuccess = "success"
	ExecutionFailed  = "failed"
)

// ExecutionResult reports the outcome of an awarded execution. Nonce,
// Timestamp and MetadataChecksum form the claim checked before it is honored.
type ExecutionResult struct {
	IntentHash       intent.Hash `json:"intent_hash"`
	Status           string      `json:"status"`
	FillPrice        string      `json:"fill_price,omitempty"`
	FeesBps          *int64      `json:"fees_bps,omitempty"`
	Nonce            string      `json:"nonce"`
	Timestamp        string      `json:"timestamp"`
	MetadataChecksum string      `json:"metadata_checksum"`
	Error            string      `json:"error,omitempty"`
}

// Registered acknowledges a registration.
type Registered struct {
	SolverID  string `json:"solver_id"`
	SessionID string `json:"session_id"`
}

// QuoteRequest invites a quote for a canonical intent.
type QuoteRequest struct {
	RequestID  string          `json:"request_id"`
	IntentHash intent.Hash     `json:"intent_hash"`
	Intent     json.RawMessage `json:"intent"`
	Deadline   string          `json:"deadline"`
}

// Award tells the selected solver it won and until when it holds exclusivity.
type Award struct {
	IntentHash       intent.Hash `json:"intent_hash"`
	Venue            string      `json:"venue"`
	Price            string      `json:"price"`
	ExclusivityUntil string      `json:"exclusivity_until"`
}

// Execute instructs the winner to execute. The solver echoes
// MetadataChecksum back in its ExecutionResult.
type Execute struct {
	IntentHash       intent.Hash     `json:"intent_hash"`
	Intent           json.RawMessage `json:"intent"`
	Venue            string          `json:"venue"`
	Chain            string          `json:"chain"`
	Price            string          `json:"price"`
	Size             string          `json:"size"`
	MetadataChecksum string          `json:"metadata_checksum"`
	Signature        string          `json:"signature"`
	ExclusivityUntil string          `json:"exclusivity_until"`
}

// Error reports a rejected solver message.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	IntentHash string `json:"intent_hash,omitempty"`
}

func (Register) Type() MessageType        { return TypeRegister }
func (Heartbeat) Type() MessageType       { return TypeHeartbeat }
func (Quote) Type() MessageType           { return TypeQuote }
func (ExecutionResult) Type() MessageType { return TypeExecutionResult }

func (Register) solverMessage()        {}
func (Heartbeat) solverMessage()       {}
func (Quote) solverMessage()           {}
func (ExecutionResult) solverMessage() {}

func (Registered) Type() MessageType   { return TypeRegistered }
func (QuoteRequest) Type() MessageType { return TypeQuoteRequest }
func (Award) Type() MessageType        { return TypeAward }
func (Execute) Type() MessageType      { return TypeExecute }
func (Error) Type() MessageType        { return TypeError }

func (Registered) serverMessage()   {}
func (QuoteRequest) serverMessage() {}
func (Award) serverMessage()        {}
func (Execute) serverMessage()      {}
func (Error) serverMessage()        {}
