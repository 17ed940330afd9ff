// Package evaluator lists the derivations of a flake with nix-eval-jobs and
// records them as evaluations of a jobset.
package evaluator

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lila-repro/lila/pkg/types"
)

// DefaultBinary is the evaluator looked up on PATH.
const DefaultBinary = "nix-eval-jobs"

// DerivationInfo is one job reported by nix-eval-jobs.
type DerivationInfo struct {
	Outputs map[string]string `json:"outputs"`
	Attr    string            `json:"attr"`
	DrvPath string            `json:"drvPath"`
	Name    string            `json:"name"`
	// AttrPath is used when Attr is empty.
	AttrPath []string `json:"attrPath"`
	// Error is set by nix-eval-jobs for attributes that failed to evaluate.
	Error string `json:"error"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Derivations []DerivationInfo
	// Warnings collects lines that could not be parsed and attributes that failed.
	Warnings []string
	Stderr   string
}

// Evaluator runs nix-eval-jobs through a CommandExecutor.
type Evaluator struct {
	executor types.CommandExecutor
	binary   string
}

// New creates an Evaluator. An empty binary selects DefaultBinary.
func New(executor types.CommandExecutor, binary string) (*Evaluator, error) {
	if executor == nil {
		return nil, errors.New("executor cannot be nil")
	}
	if binary == "" {
		binary = DefaultBinary
	}
	return &Evaluator{executor: executor, binary: binary}, nil
}

// Evaluate lists the derivations of flakeref. A failing run that produced no
// derivations is an error; a failing run with some derivations is not.
func (e *Evaluator) Evaluate(flakeref string) (*Result, error) {
	if flakeref == "" {
		return nil, errors.New("flakeref cannot be empty")
	}
	args := []string{"--flake", flakeref, "--force-recurse", "--no-instantiate"}
	stdout, stderr, runErr := e.executor.ExecuteCommand(e.binary, args, nil)

	result := ParseOutput(stdout)
	result.Stderr = stderr
	if runErr != nil && len(result.Derivations) == 0 {
		return nil, fmt.Errorf("%s failed: %w: %s", e.binary, runErr, strings.TrimSpace(stderr))
	}
	return result, nil
}

// ParseOutput parses nix-eval-jobs output, one JSON object per line. Objects
// without a drvPath are skipped.
func ParseOutput(stdout string) *Result {
	result := &Result{}
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var info DerivationInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("JSON parse error: %v", err))
			continue
		}
		if info.Error != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", info.attribute(), info.Error))
			continue
		}
		if info.DrvPath == "" {
			continue
		}
		info.Attr = info.attribute()
		result.Derivations = append(result.Derivations, info)
	}
	if err := scanner.Err(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("reading output: %v", err))
	}
	return result
}

func (d *DerivationInfo) attribute() string {
	if d.Attr != "" {
		return d.Attr
	}
	return strings.Join(d.AttrPath, ".")
}
