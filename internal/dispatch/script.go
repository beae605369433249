package dispatch

import (
	"fmt"
	"strings"

	"github.com/S-Ungurean/healthdeploy/pkg/api"
)

// ScriptVersion is the version of the rendered script format. Bump when the
// marker grammar changes so mixed-version fleets stay parseable.
const ScriptVersion = 1

const (
	markerBegin = "--- hd:step:begin "
	markerOK    = "--- hd:step:ok "
	markerFail  = "--- hd:step:fail "
)

// Step is a single typed step of a remote command script with its own
// success criterion (the step command's exit code).
type Step struct {
	Name string
	Cmd  string
	// AllowFail keeps the script running when the step exits non-zero.
	AllowFail bool
}

// Script is a structured, versioned command descriptor: an ordered list of
// steps rendered to one POSIX shell payload. Step markers in the output give
// per-step status even when the command fails midway.
type Script struct {
	Steps []Step
}

// Append adds a step and returns the script for chaining.
func (s *Script) Append(name, cmd string) *Script {
	s.Steps = append(s.Steps, Step{Name: name, Cmd: cmd})
	return s
}

// AppendAllowFail adds a step whose failure does not abort the script.
func (s *Script) AppendAllowFail(name, cmd string) *Script {
	s.Steps = append(s.Steps, Step{Name: name, Cmd: cmd, AllowFail: true})
	return s
}

// Render produces the shell payload. Each step echoes a begin marker, runs,
// then echoes ok or fail; a failed step exits 1 so the dispatcher sees a
// terminal failure. Absence of an explicit exit implies success.
func (s *Script) Render() string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "echo '--- hd:script:v%d'\n", ScriptVersion)
	for _, st := range s.Steps {
		fmt.Fprintf(&b, "echo '%s%s'\n", markerBegin, st.Name)
		fmt.Fprintf(&b, "%s\n", st.Cmd)
		b.WriteString("hd_rc=$?\n")
		if st.AllowFail {
			fmt.Fprintf(&b, "if [ $hd_rc -ne 0 ]; then echo '%s%s'; else echo '%s%s'; fi\n",
				markerFail, st.Name, markerOK, st.Name)
		} else {
			fmt.Fprintf(&b, "if [ $hd_rc -ne 0 ]; then echo '%s%s'; exit 1; fi\n", markerFail, st.Name)
			fmt.Fprintf(&b, "echo '%s%s'\n", markerOK, st.Name)
		}
	}
	return b.String()
}

// ParseStepResults recovers per-step status from remote output. Steps that
// began but never reported are in-progress (the command died or timed out
// inside them); steps never begun are pending.
func ParseStepResults(output string) []api.StepResult {
	var results []api.StepResult
	index := map[string]int{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, markerBegin):
			name := strings.TrimPrefix(line, markerBegin)
			index[name] = len(results)
			results = append(results, api.StepResult{Name: name, Status: api.StatusInProgress})
		case strings.HasPrefix(line, markerOK):
			name := strings.TrimPrefix(line, markerOK)
			if i, ok := index[name]; ok {
				results[i].Status = api.StatusSuccess
			}
		case strings.HasPrefix(line, markerFail):
			name := strings.TrimPrefix(line, markerFail)
			if i, ok := index[name]; ok {
				results[i].Status = api.StatusFailed
			}
		}
	}
	return results
}
