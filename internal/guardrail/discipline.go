package guardrail

import (
	"fmt"

	"github.com/DigiBanks99/lopen/internal/audit"
)

var readLikeTools = map[string]bool{"read_file": true, "view_file": true, "read_spec": true}
var commandTools = map[string]bool{"bash": true, "run_command": true}
var writeLikeTools = map[string]bool{"write_file": true, "edit_file": true}
var testTools = map[string]bool{"verify_tests": true, "run_tests": true}

// DetectToolDisciplinePatterns scans the audit records for one iteration
// and returns a human-readable warning per pattern detected (§4.F):
// repeated identical reads, repeated identical command failures, and
// shotgun debugging (many edits with no test verification).
func DetectToolDisciplinePatterns(records []audit.Record, repeatThreshold, shotgunThreshold int) []string {
	var warnings []string

	readCounts := make(map[string]int) // tool+path -> count
	cmdFailureCounts := make(map[string]int)
	distinctWrites := 0
	sawTestRun := false

	for _, r := range records {
		if readLikeTools[r.ToolName] {
			key := r.ToolName + ":" + r.Arguments["path"]
			readCounts[key]++
		}
		if commandTools[r.ToolName] && r.Outcome == audit.Failure {
			key := r.ToolName + ":" + r.Arguments["command"]
			cmdFailureCounts[key]++
		}
		if writeLikeTools[r.ToolName] {
			distinctWrites++
		}
		if testTools[r.ToolName] {
			sawTestRun = true
		}
	}

	for key, n := range readCounts {
		if n >= repeatThreshold {
			warnings = append(warnings, fmt.Sprintf("%q was read %d times this iteration with no apparent change", key, n))
		}
	}
	for key, n := range cmdFailureCounts {
		if n >= repeatThreshold {
			warnings = append(warnings, fmt.Sprintf("command %q failed %d times this iteration", key, n))
		}
	}
	if distinctWrites >= shotgunThreshold && !sawTestRun {
		warnings = append(warnings, fmt.Sprintf("%d files were edited without running tests", distinctWrites))
	}

	return warnings
}
