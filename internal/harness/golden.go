package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/protoengine/internal/ir"
)

// TraceSnapshot captures the trace of a scenario execution.
// It is serialized with canonical JSON for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	RunStatus    ir.RunStatus `json:"run_status"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalTrace renders the canonical trace snapshot of a result.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	return ir.MarshalCanonical(TraceSnapshot{
		ScenarioName: scenarioName,
		RunStatus:    result.Status(),
		Trace:        result.Trace,
	})
}

// MarshalDerived renders the canonical physical state of a result: what
// labware, pipettes, modules and liquids ended where. Runs of the same
// protocol over different backends produce identical bytes.
func MarshalDerived(result *Result) ([]byte, error) {
	return ir.MarshalCanonical(result.Snapshot.Derived())
}

// newGoldie uses testdata/golden/{name}.golden fixtures.
func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}
	newGoldie(t).Assert(t, scenarioName, traceJSON)
	return nil
}
