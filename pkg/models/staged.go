// Package models contains the shared data model for the staging system.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the review state of a staged command.
type Status string

const (
	// StatusPending means the command is awaiting review.
	StatusPending Status = "PENDING"
	// StatusApproved means the command was approved and executed.
	StatusApproved Status = "APPROVED"
	// StatusRejected means the command was rejected and discarded.
	StatusRejected Status = "REJECTED"
)

// Actor identifies a principal acting on the system: the requester of a
// command or the reviewer deciding it. The System actor is used for
// non-interactive callers and auto-approvals.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// System is the sentinel actor for console/scheduler-originated requests and
// system-side decisions.
var System = Actor{
	ID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte("CONSOLE")),
	Name: "CONSOLE",
}

// StagedCommand is a command intercepted and placed in the review queue.
//
// Identity, origin, payload and timing fields are set at creation and never
// change. Reviewer fields and Status are mutated exclusively by the staging
// engine during approval or rejection; reviewer fields stay empty for
// system/auto approvals.
type StagedCommand struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	CommandLine string    `json:"command_line"`
	// Timestamp is the staging time as unix milliseconds.
	Timestamp     int64     `json:"timestamp"`
	Justification string    `json:"justification,omitempty"`
	ReviewerID    uuid.UUID `json:"reviewer_id,omitempty"`
	ReviewerName  string    `json:"reviewer_name,omitempty"`
	Status        Status    `json:"status"`
}

// NewStagedCommand builds a pending command for the given sender with a fresh
// id and the current wall-clock timestamp.
func NewStagedCommand(sender Actor, commandLine string) *StagedCommand {
	return &StagedCommand{
		ID:          uuid.New(),
		SenderID:    sender.ID,
		SenderName:  sender.Name,
		CommandLine: commandLine,
		Timestamp:   time.Now().UnixMilli(),
		Status:      StatusPending,
	}
}

// StagedAt returns the staging timestamp as a time.Time.
func (c *StagedCommand) StagedAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Reviewer returns the recorded reviewer, or the System actor when the
// command was decided without a human reviewer.
func (c *StagedCommand) Reviewer() Actor {
	if c.ReviewerID == uuid.Nil {
		return System
	}
	return Actor{ID: c.ReviewerID, Name: c.ReviewerName}
}

// Clone returns a copy of the command. Snapshots handed to event subscribers
// and listing callers are clones so later mutations stay private to the
// engine.
func (c *StagedCommand) Clone() *StagedCommand {
	dup := *c
	return &dup
}
