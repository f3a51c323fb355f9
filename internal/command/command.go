// Package command carries operator commands to the running agent. The only
// command is CLOSE_ALL, which liquidates every open position.
package command

import (
	"context"
	"errors"
	"time"
)

// Kind names an operator command
type Kind string

const (
	CloseAll Kind = "CLOSE_ALL"
)

// ErrUnknownCommand is returned when submitting a command the agent does not understand
var ErrUnknownCommand = errors.New("unknown command")

// Command is a pending operator request
type Command struct {
	Command  Kind      `json:"command"`
	Issuer   string    `json:"issuer,omitempty"`
	IssuedAt time.Time `json:"issued_at,omitempty"`
}

// Valid reports whether the command is one the agent acts on
func (c Command) Valid() bool {
	return c.Command == CloseAll
}

// Channel is polled by the orchestrator at the start of every cycle
type Channel interface {
	// Pending returns the queued command, if any
	Pending(ctx context.Context) (Command, bool, error)
	// Ack removes the command once it has been handled
	Ack(ctx context.Context, cmd Command) error
}

// Submitter queues commands; used by the API and agentctl
type Submitter interface {
	Submit(ctx context.Context, cmd Command) error
}

// NewCloseAll builds a CLOSE_ALL command
func NewCloseAll(issuer string) Command {
	return Command{Command: CloseAll, Issuer: issuer, IssuedAt: time.Now().UTC()}
}

// Multi polls several channels. A command from any of them is returned and
// Ack clears all of them, so a close-all queued twice runs once.
type Multi []Channel

func (m Multi) Pending(ctx context.Context) (Command, bool, error) {
	var errs []error
	for _, ch := range m {
		cmd, ok, err := ch.Pending(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return cmd, true, nil
		}
	}
	return Command{}, false, errors.Join(errs...)
}

func (m Multi) Ack(ctx context.Context, cmd Command) error {
	var errs []error
	for _, ch := range m {
		if err := ch.Ack(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
