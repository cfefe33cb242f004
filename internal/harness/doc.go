// Package harness runs protocol scenarios against a real engine.
//
// A scenario queues commands, drives the run with control steps, injects
// hardware faults and switch changes, then asserts on the action trace and
// the final run state. Every run also replays its persisted action log and
// fails if the replayed state hash differs from the live one.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	config:
//	  block_on_door_open: true
//	steps:
//	  - enqueue:
//	      command_type: pickUpTip
//	      params: {pipette_id: pip, labware_id: tips, well_name: A1}
//	  - fail_next: {method: PickUpTip, error: tip_pick_up}
//	  - control: play
//	  - wait_for: awaiting-recovery
//	  - insert_at:
//	      index: 3
//	      command: {command_type: pickUpTip, params: {...}}
//	  - resume: {retry_failed: false}
//	  - door: open
//	  - control: play
//	    expect_error: INVALID_RUN_TRANSITION
//	assertions:
//	  - type: command_status
//	    command: command-3
//	    status: failed
//	    error_code: TIP_PICK_UP_FAILED
//
// # Assertion Types
//
//   - run_status: the final run status
//   - command_status: one command's status and, optionally, error code
//   - command_order: commands started in the listed order
//   - command_count: number of commands in a status
//   - trace_contains: an action type appears, optionally for a command or error code
//   - tip_state, well_volume, labware_location: physical state of the deck
//
// # Deterministic Testing
//
// The harness uses a step clock (testutil.StepClock) and sequential ids
// (engine.SequenceGenerator), and the status poller only runs when a
// scenario drives the door or E-stop. Traces are therefore byte-identical
// across runs and are compared against testdata/golden with goldie.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/transfer.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario, harness.WithMode(harness.ModeRecord))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        fmt.Println(msg)
//	    }
//	}
package harness
