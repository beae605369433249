package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/S-Ungurean/healthdeploy/internal/config"
	"github.com/S-Ungurean/healthdeploy/internal/fleet"
	"github.com/S-Ungurean/healthdeploy/internal/telemetry"
	"github.com/S-Ungurean/healthdeploy/pkg/api"
)

// Request addresses a script at every fleet node carrying a tag.
type Request struct {
	TargetKey   string
	TargetValue string
	Script      *Script
	Timeout     time.Duration
}

// NodeResult is the outcome of the command on one node.
type NodeResult struct {
	Node     string
	Status   api.CommandStatus
	ExitCode int
	Output   string
	Err      error
}

// Handle tracks an in-flight remote command across its target nodes.
type Handle struct {
	ID     string
	Script *Script

	mu      sync.Mutex
	results []NodeResult
	final   api.CommandStatus
	polls   int
	done    chan struct{}
	pending int
}

// Dispatcher sends shell scripts to tagged fleets and polls for terminal
// status. Dispatching never blocks; waiting is Await's job.
type Dispatcher struct {
	inventory   *fleet.Inventory
	transport   Transport
	timeout     time.Duration
	interval    time.Duration
	attempts    int
	concurrency int

	// sleep is swapped out by tests to avoid real 30s waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a dispatcher with the reconciled timeout policy from config:
// the poll budget (attempts x interval) always covers the remote command's
// own allowance, so a slow-but-successful deployment is never misreported
// as timed out.
func New(cfg config.Config, inv *fleet.Inventory, transport Transport) *Dispatcher {
	return &Dispatcher{
		inventory:   inv,
		transport:   transport,
		timeout:     cfg.CommandTimeout(),
		interval:    cfg.PollInterval(),
		attempts:    cfg.PollAttempts(),
		concurrency: cfg.Dispatch.Concurrency,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Dispatch resolves the target fleet and launches the script on every node
// concurrently. It returns a handle immediately; the command keeps running
// in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Handle, error) {
	if req.Script == nil || len(req.Script.Steps) == 0 {
		return nil, fmt.Errorf("dispatch: empty script")
	}
	nodes := d.inventory.SelectByTag(req.TargetKey, req.TargetValue)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("dispatch: no nodes match %s=%s", req.TargetKey, req.TargetValue)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	h := &Handle{
		ID:      uuid.NewString(),
		Script:  req.Script,
		results: make([]NodeResult, len(nodes)),
		done:    make(chan struct{}),
		pending: len(nodes),
	}
	for i, n := range nodes {
		h.results[i] = NodeResult{Node: n.Name, Status: api.StatusPending}
	}

	log.Info().
		Str("command_id", h.ID).
		Str("target", req.TargetKey+"="+req.TargetValue).
		Int("nodes", len(nodes)).
		Int("steps", len(req.Script.Steps)).
		Msg("dispatching remote command")
	telemetry.CounterGlobal("healthdeploy_commands_dispatched", 1, map[string]string{
		"target": req.TargetValue,
	})

	payload := req.Script.Render()
	sem := make(chan struct{}, d.concurrency)
	for i, node := range nodes {
		go func(slot int, n fleet.Node) {
			sem <- struct{}{}
			defer func() { <-sem }()

			h.setStatus(slot, api.StatusInProgress, 0, "", nil)
			out, code, err := d.transport.Exec(ctx, n, payload, timeout)
			switch {
			case err != nil:
				h.setStatus(slot, api.StatusFailed, -1, out, err)
			case code != 0:
				h.setStatus(slot, api.StatusFailed, code, out, nil)
			default:
				h.setStatus(slot, api.StatusSuccess, 0, out, nil)
			}
		}(i, node)
	}
	return h, nil
}

func (h *Handle) setStatus(slot int, st api.CommandStatus, code int, out string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.results[slot].Status
	h.results[slot] = NodeResult{
		Node:     h.results[slot].Node,
		Status:   st,
		ExitCode: code,
		Output:   out,
		Err:      err,
	}
	if st.Terminal() && !prev.Terminal() {
		h.pending--
		if h.pending == 0 {
			close(h.done)
		}
	}
}

// Done is closed once every node reached a terminal state on its own.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Results returns a snapshot of per-node outcomes.
func (h *Handle) Results() []NodeResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]NodeResult, len(h.results))
	copy(out, h.results)
	return out
}

// StepResults parses per-step status from each node's output.
func (h *Handle) StepResults() map[string][]api.StepResult {
	out := map[string][]api.StepResult{}
	for _, r := range h.Results() {
		out[r.Node] = ParseStepResults(r.Output)
	}
	return out
}

// PollCount reports how many poll observations were made against the handle.
func (h *Handle) PollCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.polls
}

// Poll returns the aggregate status. A command fails as soon as any node
// fails; it succeeds only when every node succeeded. Terminal states are
// sticky: once observed terminal the answer never changes.
func (d *Dispatcher) Poll(h *Handle) api.CommandStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls++
	if h.final.Terminal() {
		return h.final
	}

	allSuccess := true
	anyStarted := false
	for _, r := range h.results {
		switch r.Status {
		case api.StatusFailed:
			h.final = api.StatusFailed
			return h.final
		case api.StatusSuccess:
			anyStarted = true
		case api.StatusInProgress:
			anyStarted = true
			allSuccess = false
		default:
			allSuccess = false
		}
	}
	if allSuccess {
		h.final = api.StatusSuccess
		return h.final
	}
	if anyStarted {
		return api.StatusInProgress
	}
	return api.StatusPending
}

// Await polls the handle until a terminal status or until the poll budget is
// exhausted. Success on attempt k returns after exactly k polls; a failure
// returns immediately without consuming remaining attempts; exhaustion
// yields a timeout classification distinct from failure.
func (d *Dispatcher) Await(ctx context.Context, h *Handle) (api.CommandStatus, error) {
	for attempt := 1; attempt <= d.attempts; attempt++ {
		switch st := d.Poll(h); st {
		case api.StatusSuccess:
			log.Info().Str("command_id", h.ID).Int("attempt", attempt).Msg("remote command succeeded")
			return st, nil
		case api.StatusFailed:
			failed := h.failedNodes()
			log.Error().Str("command_id", h.ID).Strs("nodes", failed).Msg("remote command failed")
			return st, &CommandFailedError{CommandID: h.ID, Nodes: failed}
		default:
			log.Debug().
				Str("command_id", h.ID).
				Str("status", string(st)).
				Int("attempt", attempt).
				Int("max_attempts", d.attempts).
				Msg("remote command still running")
		}
		if attempt < d.attempts {
			if err := d.sleep(ctx, d.interval); err != nil {
				return api.StatusInProgress, err
			}
		}
	}

	h.mu.Lock()
	h.final = api.StatusTimedOut
	h.mu.Unlock()
	budget := time.Duration(d.attempts) * d.interval
	log.Error().Str("command_id", h.ID).Dur("budget", budget).Msg("remote command poll budget exhausted")
	return api.StatusTimedOut, &CommandTimeoutError{CommandID: h.ID, Attempts: d.attempts, Budget: budget}
}

// Run is Dispatch followed by Await: the blocking call pipeline stages use.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Handle, api.CommandStatus, error) {
	h, err := d.Dispatch(ctx, req)
	if err != nil {
		return nil, api.StatusFailed, err
	}
	st, err := d.Await(ctx, h)
	return h, st, err
}

func (h *Handle) failedNodes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.results {
		if r.Status == api.StatusFailed {
			out = append(out, r.Node)
		}
	}
	return out
}
