package cbclusterboot

import (
	"errors"
	"fmt"
)

var (
	ErrClusterAlreadyStarted      = errors.New("cluster bootstrap has already been started")
	ErrClusterNotRunning          = errors.New("cluster is not running")
	ErrOrchestratorAlreadyRunning = errors.New("orchestrator is already running")
	ErrOrchestratorNotRunning     = errors.New("orchestrator is not running")
)

// NodeJoinError records the failure of a single node's join sequence.  One
// node failing does not interrupt its siblings, so several of these can be
// collected from one JoinAll call.
type NodeJoinError struct {
	NodeName string
	Cause    error
}

func (e NodeJoinError) Error() string {
	return fmt.Sprintf("node %s failed to join: %s", e.NodeName, e.Cause)
}

func (e NodeJoinError) Unwrap() error {
	return e.Cause
}
