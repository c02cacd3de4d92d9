// Package sandbox provides a stub domain.SandboxProvider/SandboxFactory: real
// compile/test backends (containerized toolchains, remote build services) are
// explicitly out of scope for this harness core, but the compile queue needs
// something to drive so it can be exercised and tested end to end.
package sandbox

import (
	"strings"
	"time"

	"github.com/fairyhunter13/benchforge/internal/domain"
)

// Stub is a deterministic, in-process sandbox: it "compiles" a project by
// checking for obviously unbalanced braces, and "tests" it by evaluating a
// simple line-oriented assertion language in project.TestApp:
//
//	CONTAINS:<substring>      // passes if project.Code contains substring
//	NOT_CONTAINS:<substring>  // passes if project.Code does not contain substring
//
// This exists so the compile queue and orchestrator can be exercised without
// a real toolchain; nothing about it is meant to resemble a production
// sandbox backend.
type Stub struct {
	// CompileDelay/TestDelay simulate realistic queue occupancy in tests.
	CompileDelay time.Duration
	TestDelay    time.Duration
}

var _ domain.SandboxProvider = (*Stub)(nil)

// CompileProject "compiles" a project, failing only on trivially detectable
// syntax problems (empty code, unbalanced braces).
func (s *Stub) CompileProject(ctx domain.Context, sandboxName string, project domain.Project) (domain.CompilationResult, error) {
	if s.CompileDelay > 0 {
		select {
		case <-time.After(s.CompileDelay):
		case <-ctx.Done():
			return domain.CompilationResult{}, ctx.Err()
		}
	}

	start := time.Now()
	code := strings.TrimSpace(project.Code)
	if code == "" {
		return domain.CompilationResult{
			Success:  false,
			Errors:   []domain.CompileError{{Message: "empty source", Severity: "error"}},
			Duration: time.Since(start),
		}, nil
	}

	if strings.Count(code, "{") != strings.Count(code, "}") {
		return domain.CompilationResult{
			Success:  false,
			Errors:   []domain.CompileError{{Message: "unbalanced braces", Severity: "error"}},
			Duration: time.Since(start),
		}, nil
	}

	return domain.CompilationResult{
		Success:      true,
		Output:       "build ok",
		Duration:     time.Since(start),
		ArtifactPath: "/tmp/" + sandboxName + "/" + project.ID + "/bin",
	}, nil
}

// RunTests evaluates project.TestApp's CONTAINS/NOT_CONTAINS assertions
// against project.Code.
func (s *Stub) RunTests(ctx domain.Context, sandboxName string, project domain.Project) (domain.TestResult, error) {
	if s.TestDelay > 0 {
		select {
		case <-time.After(s.TestDelay):
		case <-ctx.Done():
			return domain.TestResult{}, ctx.Err()
		}
	}

	start := time.Now()
	var results []domain.TestCaseResult
	passed, failed := 0, 0

	for _, line := range strings.Split(project.TestApp, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "CONTAINS:"):
			want := strings.TrimPrefix(line, "CONTAINS:")
			ok := strings.Contains(project.Code, want)
			results = append(results, domain.TestCaseResult{Name: line, Passed: ok})
			if ok {
				passed++
			} else {
				failed++
			}
		case strings.HasPrefix(line, "NOT_CONTAINS:"):
			unwanted := strings.TrimPrefix(line, "NOT_CONTAINS:")
			ok := !strings.Contains(project.Code, unwanted)
			results = append(results, domain.TestCaseResult{Name: line, Passed: ok})
			if ok {
				passed++
			} else {
				failed++
			}
		}
	}

	return domain.TestResult{
		Success:     failed == 0,
		TotalTests:  passed + failed,
		PassedTests: passed,
		FailedTests: failed,
		Duration:    time.Since(start),
		Results:     results,
	}, nil
}

// Factory constructs Stub sandboxes on demand; every sandbox name maps to an
// identically-behaved Stub instance since there is no real backend to vary.
type Factory struct{}

var _ domain.SandboxFactory = Factory{}

// Sandbox returns a Stub sandbox; name is accepted for interface conformance.
func (Factory) Sandbox(name string) (domain.SandboxProvider, error) {
	return &Stub{}, nil
}
