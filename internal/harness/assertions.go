package harness

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Type, ev.Action)
			if ev.Intent != "" {
				fmt.Fprintf(&buf, " intent=%s", ev.Intent)
			}
			if ev.Solver != "" {
				fmt.Fprintf(&buf, " solver=%s", ev.Solver)
			}
			if ev.Outcome != "" {
				fmt.Fprintf(&buf, " -> %s", ev.Outcome)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against a finished run and
// returns one error per failed assertion.
func EvaluateAssertions(r *Result, assertions []Assertion) []error {
	var errs []error
	for _, a := range assertions {
		var err error
		switch a.Type {
		case AssertEventOrder:
			err = assertEventOrder(r.Trace, a)
		case AssertEventCount:
			err = assertEventCount(r.Trace, a)
		case AssertMessageCount:
			err = assertMessageCount(r.Trace, a)
		case AssertFinalState:
			err = assertFinalState(r.Receipts, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func lifecycle(trace []TraceEvent, intentName string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Type != TraceLifecycle {
			continue
		}
		if intentName != "" && ev.Intent != intentName {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// assertEventOrder checks that events appear in the given order. They need
// not be consecutive and a repeated name must occur again after its
// previous match.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	evs := lifecycle(trace, a.Intent)
	pos := 0
	for _, want := range a.Events {
		found := false
		for pos < len(evs) {
			ev := evs[pos]
			pos++
			if ev.Action == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual:   fmt.Sprintf("%s missing or out of order in %v", want, actions(evs)),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range lifecycle(trace, a.Intent) {
		if ev.Action == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertMessageCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Type != TraceMessage || ev.Solver != a.Solver || ev.Action != a.Message {
			continue
		}
		if a.Intent != "" && ev.Intent != a.Intent {
			continue
		}
		count++
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertMessageCount,
			Expected: fmt.Sprintf("%d %s frames to %s", a.Count, a.Message, a.Solver),
			Actual:   fmt.Sprintf("%d frames", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the listed receipt fields. Fields that are
// absent from the receipt compare as empty.
func assertFinalState(receipts map[string]status.Receipt, a Assertion) error {
	r, ok := receipts[a.Intent]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("receipt for %s", a.Intent),
			Actual:   "intent was never accepted",
		}
	}
	got := ReceiptValues(r)

	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if got[k] != a.Expect[k] {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %q", a.Intent, k, a.Expect[k]),
				Actual:   fmt.Sprintf("%s.%s = %q", a.Intent, k, got[k]),
			}
		}
	}
	return nil
}

// ReceiptValues flattens a receipt into the fields final_state checks.
// error is the error code and settlement the settlement outcome.
func ReceiptValues(r status.Receipt) map[string]string {
	v := map[string]string{
		"status":         r.Status,
		"winning_solver": r.WinningSolver,
		"venue":          r.Venue,
		"fill_price":     r.FillPrice,
		"archived":       strconv.FormatBool(r.Archived),
	}
	if r.FeesBps != nil {
		v["fees_bps"] = strconv.FormatInt(*r.FeesBps, 10)
	}
	if r.Error != nil {
		v["error"] = r.Error.Code
	}
	if r.Settlement != nil {
		v["settlement"] = string(r.Settlement.Outcome)
	}
	return v
}

func actions(evs []TraceEvent) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Action
	}
	return out
}
