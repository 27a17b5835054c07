package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/candy-cartel/internal/agents"
	"github.com/talgya/candy-cartel/internal/candy"
	"github.com/talgya/candy-cartel/internal/rumor"
	"github.com/talgya/candy-cartel/internal/world"
)

// ErrorKind classifies why a command or trade did not go through.
type ErrorKind string

const (
	ErrValidation    ErrorKind = "validation"
	ErrConsistency   ErrorKind = "consistency"
	ErrConfiguration ErrorKind = "configuration"
	ErrCapacity      ErrorKind = "capacity"
)

// Status is the outcome of a command.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusRejected Status = "rejected"
)

// CommandResult is the discriminated outcome reported back to the caller.
type CommandResult struct {
	ID     uint64    `json:"id"`
	Status Status    `json:"status"`
	Kind   ErrorKind `json:"kind,omitempty"` // Set when rejected
	Reason string    `json:"reason,omitempty"`
	Tick   uint64    `json:"tick"`
}

// CommandKind names a top-level command.
type CommandKind string

const (
	CmdPossess     CommandKind = "possess"
	CmdIssue       CommandKind = "issue_command"
	CmdRelease     CommandKind = "release"
	CmdSupplyPower CommandKind = "apply_supply_power"
)

// ActionKind names an action issued to the possessed agent.
type ActionKind string

const (
	ActProposeTrade   ActionKind = "propose_trade"
	ActMoveTo         ActionKind = "move_to"
	ActAcceptIncoming ActionKind = "accept_incoming"
	ActRejectIncoming ActionKind = "reject_incoming"
	ActBorrow         ActionKind = "borrow"
	ActHoard          ActionKind = "hoard"
	ActSpreadRumor    ActionKind = "spread_rumor"
)

// PowerKind names a supply power.
type PowerKind string

const (
	PowerCurse PowerKind = "curse"
	PowerBless PowerKind = "bless"
)

// Command is queued by an external collaborator and applied at the start
// of the next fast tick.
type Command struct {
	ID     uint64         `json:"id"`
	Kind   CommandKind    `json:"kind"`
	Agent  agents.AgentID `json:"agent,omitempty"`
	Action ActionKind     `json:"action,omitempty"`

	// propose_trade, borrow
	Target  agents.AgentID  `json:"target,omitempty"`
	Offer   candy.Inventory `json:"offer,omitempty"`
	Request candy.Inventory `json:"request,omitempty"`

	// move_to
	Pos *world.Vec2 `json:"pos,omitempty"`

	// accept_incoming, reject_incoming
	Incoming uint64 `json:"incoming,omitempty"`

	// hoard, spread_rumor, borrow
	Candy      string         `json:"candy,omitempty"`
	Count      int            `json:"count,omitempty"`
	RumorKind  rumor.Kind     `json:"rumor_kind,omitempty"`
	RumorAbout agents.AgentID `json:"rumor_about,omitempty"`
	Magnitude  float64        `json:"magnitude,omitempty"`

	// apply_supply_power
	House    world.HouseID `json:"house,omitempty"`
	Power    PowerKind     `json:"power,omitempty"`
	Duration uint64        `json:"duration,omitempty"`
}

// cmdError carries an ErrorKind alongside the message.
type cmdError struct {
	kind ErrorKind
	err  error
}

func (e *cmdError) Error() string { return e.err.Error() }
func (e *cmdError) Unwrap() error { return e.err }

func rejectf(kind ErrorKind, format string, args ...any) error {
	return &cmdError{kind: kind, err: fmt.Errorf(format, args...)}
}

func reject(kind ErrorKind, err error) error {
	return &cmdError{kind: kind, err: err}
}

// classify maps an error to a result kind.
func classify(err error) ErrorKind {
	var ce *cmdError
	if errors.As(err, &ce) {
		return ce.kind
	}
	if errors.Is(err, agents.ErrInsufficientInventory) {
		return ErrValidation
	}
	if errors.Is(err, rumor.ErrUnknownCandy) || errors.Is(err, candy.ErrUnknownKind) {
		return ErrConfiguration
	}
	return ErrValidation
}
