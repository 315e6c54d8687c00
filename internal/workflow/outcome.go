package workflow

import (
	clierr "github.com/buldozerch/plume-runner/internal/errors"
)

// Status is the tri-state result a workflow run reports upward. Internal
// retries are invisible to the orchestrator; only the terminal state
// escapes.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusSoftFailure Status = "soft_failure"
	StatusHardFailure Status = "hard_failure"
)

// Outcome is the only externally visible result of one wallet's run.
type Outcome struct {
	WalletID int64
	Address  string
	Status   Status
	Reason   string
}

// Mode selects which sub-sequence of the state machine a run executes.
type Mode string

const (
	ModeFull       Mode = "full-workflow"
	ModeBridgeOnly Mode = "bridge-only"
	ModeSwapOnly   Mode = "swap-only"
)

// State names the position of a run inside the machine. States only move
// forward; Failed is reachable from anywhere once the failure budget is
// spent.
type State string

const (
	StateIdle          State = "idle"
	StateBridgeCheck   State = "bridge_check"
	StateAlreadyFunded State = "already_funded"
	StateSelectNetwork State = "select_network"
	StateBridging      State = "bridging"
	StateAwaitArrival  State = "await_arrival"
	StateSwapCheck     State = "swap_check"
	StateSwapLoop      State = "swap_loop"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// statusFor maps a terminal error onto soft vs hard. Soft failures are
// those more time or resources could fix; everything else is hard.
func statusFor(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	switch clierr.CodeOf(err) {
	case clierr.CodeNetwork, clierr.CodeTimeout, clierr.CodeExhausted:
		return StatusSoftFailure
	default:
		return StatusHardFailure
	}
}
