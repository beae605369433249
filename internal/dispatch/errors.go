package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// CommandFailedError reports a remote command that reached a terminal failed
// state: at least one target node returned a non-zero exit. Target machine
// state is not rolled back.
type CommandFailedError struct {
	CommandID string
	Nodes     []string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("remote command %s failed on nodes: %s", e.CommandID, strings.Join(e.Nodes, ", "))
}

// CommandTimeoutError reports a poll budget exhausted without a terminal
// status. It is distinct from CommandFailedError: the command may still be
// running and target machine state is unknown.
type CommandTimeoutError struct {
	CommandID string
	Attempts  int
	Budget    time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("remote command %s not terminal after %d polls (%s budget)", e.CommandID, e.Attempts, e.Budget)
}
