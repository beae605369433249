package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Ungurean/healthdeploy/internal/config"
	"github.com/S-Ungurean/healthdeploy/internal/fleet"
	"github.com/S-Ungurean/healthdeploy/pkg/api"
)

// nodeBehavior scripts what the fake transport does for one node.
type nodeBehavior struct {
	exitCode int
	output   string
	err      error
	// release, when set, blocks the node until the channel is closed.
	release chan struct{}
}

type fakeTransport struct {
	behaviors map[string]nodeBehavior
}

func (f *fakeTransport) Exec(ctx context.Context, node fleet.Node, script string, timeout time.Duration) (string, int, error) {
	b := f.behaviors[node.Name]
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return "", -1, ctx.Err()
		}
	}
	return b.output, b.exitCode, b.err
}

func testInventory(names ...string) *fleet.Inventory {
	var cfg config.Config
	cfg.ApplyDefaults()
	for _, n := range names {
		cfg.Fleet.Hosts = append(cfg.Fleet.Hosts, config.Host{
			Name: n, IP: "10.0.0.1", Tags: map[string]string{"HealthEnv": "dev"},
		})
	}
	return fleet.NewInventory(cfg)
}

func testDispatcher(inv *fleet.Inventory, tr Transport, attempts int) (*Dispatcher, *int) {
	sleeps := 0
	d := &Dispatcher{
		inventory:   inv,
		transport:   tr,
		timeout:     time.Minute,
		interval:    30 * time.Second,
		attempts:    attempts,
		concurrency: 4,
		sleep: func(ctx context.Context, _ time.Duration) error {
			sleeps++
			return nil
		},
	}
	return d, &sleeps
}

func devRequest() Request {
	s := &Script{}
	s.Append("noop", "true")
	return Request{TargetKey: "HealthEnv", TargetValue: "dev", Script: s}
}

func TestAwaitSuccessStopsPolling(t *testing.T) {
	tr := &fakeTransport{behaviors: map[string]nodeBehavior{
		"dev-1": {exitCode: 0, output: "ok"},
	}}
	d, sleeps := testDispatcher(testInventory("dev-1"), tr, 20)

	h, err := d.Dispatch(context.Background(), devRequest())
	require.NoError(t, err)
	<-h.Done()

	st, err := d.Await(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, st)
	assert.Equal(t, 1, h.PollCount(), "success on attempt 1 must make no further poll calls")
	assert.Equal(t, 0, *sleeps)
}

func TestAwaitFailureReturnsImmediately(t *testing.T) {
	tr := &fakeTransport{behaviors: map[string]nodeBehavior{
		"dev-1": {exitCode: 1, output: "boom"},
	}}
	d, sleeps := testDispatcher(testInventory("dev-1"), tr, 20)

	h, err := d.Dispatch(context.Background(), devRequest())
	require.NoError(t, err)
	<-h.Done()

	st, err := d.Await(context.Background(), h)
	assert.Equal(t, api.StatusFailed, st)
	var failed *CommandFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, []string{"dev-1"}, failed.Nodes)
	assert.Equal(t, 0, *sleeps, "failure must not wait for remaining attempts")
}

func TestAwaitTimeoutDistinctFromFailure(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tr := &fakeTransport{behaviors: map[string]nodeBehavior{
		"dev-1": {release: release},
	}}
	d, sleeps := testDispatcher(testInventory("dev-1"), tr, 3)

	h, err := d.Dispatch(context.Background(), devRequest())
	require.NoError(t, err)

	st, err := d.Await(context.Background(), h)
	assert.Equal(t, api.StatusTimedOut, st)
	var timeout *CommandTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Attempts)
	var failed *CommandFailedError
	assert.False(t, errors.As(err, &failed), "timeout must not classify as failure")
	assert.Equal(t, 3, h.PollCount())
	assert.Equal(t, 2, *sleeps, "no sleep after the final attempt")
}

func TestAwaitSuccessOnLaterAttempt(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransport{behaviors: map[string]nodeBehavior{
		"dev-1": {exitCode: 0, release: release},
	}}
	d, _ := testDispatcher(testInventory("dev-1"), tr, 20)

	h, err := d.Dispatch(context.Background(), devRequest())
	require.NoError(t, err)

	sleeps := 0
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeps++
		if sleeps == 2 {
			close(release)
			<-h.Done()
		}
		return nil
	}

	st, err := d.Await(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, st)
	assert.Equal(t, 3, h.PollCount(), "success observed on attempt 3")
}

func TestPollAggregatesAcrossFleet(t *testing.T) {
	releaseSlow := make(chan struct{})
	tr := &fakeTransport{behaviors: map[string]nodeBehavior{
		"dev-1": {exitCode: 0},
		"dev-2": {exitCode: 1, release: releaseSlow},
	}}
	d, _ := testDispatcher(testInventory("dev-1", "dev-2"), tr, 20)

	h, err := d.Dispatch(context.Background(), devRequest())
	require.NoError(t, err)

	// dev-1 finishes, dev-2 still running: aggregate is in-progress.
	require.Eventually(t, func() bool {
		for _, r := range h.Results() {
			if r.Node == "dev-1" && r.Status == api.StatusSuccess {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, api.StatusInProgress, d.Poll(h))

	close(releaseSlow)
	<-h.Done()
	assert.Equal(t, api.StatusFailed, d.Poll(h))
	// Terminal states are sticky.
	assert.Equal(t, api.StatusFailed, d.Poll(h))
}

func TestDispatchRejectsEmptyTargets(t *testing.T) {
	tr := &fakeTransport{behaviors: map[string]nodeBehavior{}}
	d, _ := testDispatcher(testInventory("dev-1"), tr, 20)

	req := devRequest()
	req.TargetValue = "prod"
	_, err := d.Dispatch(context.Background(), req)
	require.Error(t, err)

	req = devRequest()
	req.Script = &Script{}
	_, err = d.Dispatch(context.Background(), req)
	require.Error(t, err)
}

func TestNewUsesReconciledPolicy(t *testing.T) {
	var cfg config.Config
	cfg.ApplyDefaults()
	d := New(cfg, testInventory(), &fakeTransport{})
	assert.Equal(t, 20, d.attempts)
	assert.Equal(t, 30*time.Second, d.interval)
	assert.Equal(t, 600*time.Second, d.timeout)
}
