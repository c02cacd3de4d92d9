package orchestrator

import (
	"strings"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// score implements spec.md §4.6's weighted attempt scoring: compile is worth
// up to 50 points, the sandbox test run is worth up to 30 points when the
// manifest declares a test app, and the mustContain/mustNotContain substring
// checks are worth 10 points each, checked directly against the generated
// code so they apply regardless of whether the sandbox ran any tests for
// this attempt. The final percentage is 100*points/maxPoints over whichever
// categories actually applied.
func score(expected domain.TaskExpected, code string, compileResult domain.CompilationResult, testResult *domain.TestResult) (float64, []string) {
	var reasons []string

	if !compileResult.Success {
		for _, e := range compileResult.Errors {
			reasons = append(reasons, "compile error: "+e.Message)
		}
		if len(reasons) == 0 {
			reasons = append(reasons, "compile error: unknown")
		}
		return 0, reasons
	}

	points := 50.0
	maxPoints := 50.0

	if expected.TestApp != "" {
		maxPoints += 30
		switch {
		case testResult == nil:
			reasons = append(reasons, "test failure: no test result recorded")
		case testResult.TotalTests == 0:
			points += 30
		default:
			for _, r := range testResult.Results {
				if !r.Passed {
					reasons = append(reasons, "test failure: "+r.Name)
				}
			}
			points += 30 * float64(testResult.PassedTests) / float64(testResult.TotalTests)
		}
	}

	maxPoints += 10
	if missing := missingSubstrings(code, expected.MustContain); len(missing) == 0 {
		points += 10
	} else {
		for _, m := range missing {
			reasons = append(reasons, "missing required substring: "+m)
		}
	}

	maxPoints += 10
	if present := presentSubstrings(code, expected.MustNotContain); len(present) == 0 {
		points += 10
	} else {
		for _, p := range present {
			reasons = append(reasons, "forbidden substring present: "+p)
		}
	}

	return 100 * points / maxPoints, reasons
}

// passed reports whether an attempt counts as a full pass: must compile, and
// (when declared) the sandbox's test app must succeed, every mustContain
// substring must be present, and no mustNotContain substring may appear.
func passed(expected domain.TaskExpected, code string, compileResult domain.CompilationResult, testResult *domain.TestResult) bool {
	if !compileResult.Success {
		return false
	}
	if expected.TestApp != "" && (testResult == nil || !testResult.Success) {
		return false
	}
	if len(missingSubstrings(code, expected.MustContain)) > 0 {
		return false
	}
	if len(presentSubstrings(code, expected.MustNotContain)) > 0 {
		return false
	}
	return true
}

func missingSubstrings(code string, required []string) []string {
	var missing []string
	for _, r := range required {
		if !strings.Contains(code, r) {
			missing = append(missing, r)
		}
	}
	return missing
}

func presentSubstrings(code string, forbidden []string) []string {
	var present []string
	for _, f := range forbidden {
		if strings.Contains(code, f) {
			present = append(present, f)
		}
	}
	return present
}
