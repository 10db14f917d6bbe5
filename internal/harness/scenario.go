package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes one auction run: the solvers taking part, the intents
// in play, a sequence of steps, and assertions over the resulting trace and
// final receipts.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the virtual clock's starting instant. Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Catalog is an optional CUE guardrail catalog.
	// Relative paths are resolved against the scenario file location.
	Catalog string `yaml:"catalog,omitempty"`

	// Windows overrides the coordinator's timing.
	Windows Windows `yaml:"windows,omitempty"`

	// Solvers are registered before the first step unless marked deferred.
	Solvers []SolverSpec `yaml:"solvers,omitempty"`

	// Intents maps a short name to the raw intent JSON submitted under it.
	// Steps and assertions refer to intents by this name.
	Intents map[string]string `yaml:"intents"`

	// Steps run in order against a single coordinator.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and receipts.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Windows holds timing overrides. Zero values keep the defaults.
type Windows struct {
	Quote       time.Duration `yaml:"quote,omitempty"`
	Exclusivity time.Duration `yaml:"exclusivity,omitempty"`
	Retention   time.Duration `yaml:"retention,omitempty"`
	// Settlement is the loopback settlement delay.
	Settlement time.Duration `yaml:"settlement,omitempty"`
}

// SolverSpec declares a solver and its capabilities.
type SolverSpec struct {
	ID          string   `yaml:"id"`
	Venues      []string `yaml:"venues"`
	MaxExposure string   `yaml:"max_exposure,omitempty"`

	// Deferred solvers only join through a register step.
	Deferred bool `yaml:"deferred,omitempty"`
}

// Step is one action against the coordinator or the solver set.
type Step struct {
	Action string `yaml:"action"`
	Intent string `yaml:"intent,omitempty"`
	Solver string `yaml:"solver,omitempty"`

	Quote  *QuoteSpec  `yaml:"quote,omitempty"`
	Accept *AcceptSpec `yaml:"accept,omitempty"`
	Report *ReportSpec `yaml:"report,omitempty"`

	// Duration is how far an advance step moves the clock.
	Duration time.Duration `yaml:"duration,omitempty"`

	// Expect validates the step. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// QuoteSpec is a quote a solver sends. Size defaults to the intent size
// and the quote expires an hour after it is sent unless ExpiresIn is set.
type QuoteSpec struct {
	Price        string        `yaml:"price"`
	Size         string        `yaml:"size,omitempty"`
	FeeBps       int64         `yaml:"fee_bps"`
	FundingBps8h int64         `yaml:"funding_bps_8h"`
	SlippageBps  int64         `yaml:"slippage_bps"`
	Venue        string        `yaml:"venue"`
	Chain        string        `yaml:"chain"`
	ExpiresIn    time.Duration `yaml:"expires_in,omitempty"`
}

// AcceptSpec is the user's acceptance. Signer defaults to the intent's
// signer_id and Signature (hex) to a fixed opaque value.
type AcceptSpec struct {
	Signer    string `yaml:"signer,omitempty"`
	Signature string `yaml:"signature,omitempty"`
}

// ReportSpec is an execution result a solver sends.
type ReportSpec struct {
	Status    string `yaml:"status,omitempty"`
	FillPrice string `yaml:"fill_price,omitempty"`
	FeesBps   *int64 `yaml:"fees_bps,omitempty"`
	Error     string `yaml:"error,omitempty"`

	// Nonce defaults to a value unique to the step.
	Nonce string `yaml:"nonce,omitempty"`

	// Checksum defaults to the one in the execute instruction the solver received.
	Checksum string `yaml:"checksum,omitempty"`

	// Skew offsets the claim timestamp from the virtual clock.
	Skew time.Duration `yaml:"skew,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected error code. Empty means the step succeeds.
	Error string `yaml:"error,omitempty"`

	// Status is the auction status after the step.
	Status string `yaml:"status,omitempty"`

	// Winner is the selected solver after the step.
	Winner string `yaml:"winner,omitempty"`

	// SolversContacted is checked on request_quotes steps.
	SolversContacted []string `yaml:"solvers_contacted,omitempty"`
}

// Assertion validates the trace or a final receipt.
type Assertion struct {
	// Type is one of event_order, event_count, message_count or final_state.
	Type string `yaml:"type"`

	// Intent narrows event assertions to one intent and names the
	// receipt for final_state.
	Intent string `yaml:"intent,omitempty"`

	// Event is the event name counted by event_count.
	Event string `yaml:"event,omitempty"`

	// Events is the expected order for event_order.
	// Other events may appear in between.
	Events []string `yaml:"events,omitempty"`

	// Solver and Message select the frames counted by message_count.
	Solver  string `yaml:"solver,omitempty"`
	Message string `yaml:"message,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Expect holds receipt fields for final_state. Only listed fields are checked.
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Step actions.
const (
	ActionRegister      = "register"
	ActionSubmit        = "submit"
	ActionRequestQuotes = "request_quotes"
	ActionQuote         = "quote"
	ActionAdvance       = "advance"
	ActionAccept        = "accept"
	ActionReport        = "report"
	ActionDisconnect    = "disconnect"
	ActionHeartbeat     = "heartbeat"
	ActionSweep         = "sweep"
)

// Assertion types.
const (
	AssertEventOrder   = "event_order"
	AssertEventCount   = "event_count"
	AssertMessageCount = "message_count"
	AssertFinalState   = "final_state"
)

// receiptFields are the keys a final_state assertion may check.
var receiptFields = map[string]bool{
	"status":         true,
	"winning_solver": true,
	"venue":          true,
	"fill_price":     true,
	"fees_bps":       true,
	"error":          true,
	"settlement":     true,
	"archived":       true,
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and a relative catalog path is resolved against the file's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Catalog != "" && !filepath.IsAbs(s.Catalog) {
		s.Catalog = filepath.Join(filepath.Dir(path), s.Catalog)
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Intents) == 0 {
		return fmt.Errorf("intents map is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	solvers := make(map[string]bool, len(s.Solvers))
	for i, sv := range s.Solvers {
		if sv.ID == "" {
			return fmt.Errorf("solvers[%d]: id is required", i)
		}
		if solvers[sv.ID] {
			return fmt.Errorf("solvers[%d]: duplicate id %q", i, sv.ID)
		}
		if len(sv.Venues) == 0 {
			return fmt.Errorf("solvers[%d]: venues list is required", i)
		}
		solvers[sv.ID] = true
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], s.Intents, solvers); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], s.Intents); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step, intents map[string]string, solvers map[string]bool) error {
	needIntent := func() error {
		if st.Intent == "" {
			return fmt.Errorf("steps[%d]: intent is required for %s", index, st.Action)
		}
		if _, ok := intents[st.Intent]; !ok {
			return fmt.Errorf("steps[%d]: unknown intent %q", index, st.Intent)
		}
		return nil
	}
	needSolver := func() error {
		if st.Solver == "" {
			return fmt.Errorf("steps[%d]: solver is required for %s", index, st.Action)
		}
		if !solvers[st.Solver] {
			return fmt.Errorf("steps[%d]: unknown solver %q", index, st.Solver)
		}
		return nil
	}

	if st.Intent != "" {
		if _, ok := intents[st.Intent]; !ok {
			return fmt.Errorf("steps[%d]: unknown intent %q", index, st.Intent)
		}
	}
	// Status and winner are read from the named intent's receipt.
	if st.Expect != nil && (st.Expect.Status != "" || st.Expect.Winner != "") && st.Intent == "" {
		return fmt.Errorf("steps[%d]: expect status or winner requires an intent", index)
	}

	switch st.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionSubmit, ActionRequestQuotes, ActionAccept:
		return needIntent()
	case ActionQuote:
		if err := needIntent(); err != nil {
			return err
		}
		if err := needSolver(); err != nil {
			return err
		}
		if st.Quote == nil {
			return fmt.Errorf("steps[%d]: quote is required", index)
		}
		if st.Quote.Price == "" || st.Quote.Venue == "" || st.Quote.Chain == "" {
			return fmt.Errorf("steps[%d]: quote needs price, venue and chain", index)
		}
	case ActionReport:
		if err := needIntent(); err != nil {
			return err
		}
		return needSolver()
	case ActionRegister, ActionDisconnect, ActionHeartbeat:
		return needSolver()
	case ActionAdvance:
		if st.Duration < 0 {
			return fmt.Errorf("steps[%d]: duration must be non-negative", index)
		}
	case ActionSweep:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

func validateAssertion(index int, a *Assertion, intents map[string]string) error {
	if a.Intent != "" {
		if _, ok := intents[a.Intent]; !ok {
			return fmt.Errorf("assertions[%d]: unknown intent %q", index, a.Intent)
		}
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertMessageCount:
		if a.Solver == "" || a.Message == "" {
			return fmt.Errorf("assertions[%d]: solver and message are required for message_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for message_count", index)
		}
	case AssertFinalState:
		if a.Intent == "" {
			return fmt.Errorf("assertions[%d]: intent is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
		for k := range a.Expect {
			if !receiptFields[k] {
				return fmt.Errorf("assertions[%d]: unknown receipt field %q", index, k)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
