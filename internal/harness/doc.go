// Package harness runs auction scenarios against a real coordinator.
//
// Every scenario gets a fresh coordinator, solver registry, execution gate
// and in-memory SQLite archive, all driven by a manual clock. Solvers are
// in-process connections that record every frame the core sends them, so a
// run produces the same trace every time and can be compared against a
// golden file.
//
// # Scenario Format
//
//	name: lowest_cost_wins
//	description: "The cheaper all-in quote is selected"
//	windows:
//	  quote: 5s
//	solvers:
//	  - id: solver-a
//	    venues: [gmx-v2]
//	intents:
//	  perp: |
//	    {"version": "1.0.0", "intent_type": "derivatives", ...}
//	steps:
//	  - action: submit
//	    intent: perp
//	  - action: request_quotes
//	    intent: perp
//	    expect: { status: quoting, solvers_contacted: [solver-a] }
//	  - action: quote
//	    intent: perp
//	    solver: solver-a
//	    quote: { price: "3500", fee_bps: 5, venue: gmx-v2, chain: arbitrum }
//	  - action: advance
//	    duration: 5s
//	    expect: { status: selecting }
//	assertions:
//	  - type: event_order
//	    events: [intent_submitted, quotes_requested, solver_assigned]
//	  - type: final_state
//	    intent: perp
//	    expect: { status: selecting, winning_solver: solver-a }
//
// # Steps
//
//   - submit, request_quotes and accept act on an intent
//   - quote and report act on an intent as a solver
//   - register, disconnect and heartbeat act on a solver
//   - advance moves the clock, firing due timers
//   - sweep evicts solvers whose heartbeat is stale
//
// A step without expect must succeed. With expect, error names the code the
// step must fail with and status, winner and solvers_contacted are checked
// after it runs.
//
// # Assertion Types
//
//   - event_order: events appear in this order, optionally for one intent
//   - event_count: an event appears exactly N times
//   - message_count: a solver received exactly N frames of a type
//   - final_state: fields of an intent's final receipt
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/lowest_cost_wins.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
