// Package control carries out-of-band pause/cancel/resume signals to running
// protocols. Commands are honored cooperatively at checkpoints, never
// preemptively.
package control

import (
	"context"
	"strings"
)

// Command is an out-of-band instruction targeting one run.
type Command string

const (
	CommandNone   Command = ""
	CommandPause  Command = "pause"
	CommandCancel Command = "cancel"
	CommandResume Command = "resume"
)

func NormalizeCommand(value string) Command {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(CommandPause):
		return CommandPause
	case string(CommandCancel):
		return CommandCancel
	case string(CommandResume):
		return CommandResume
	default:
		return CommandNone
	}
}

// Channel is the cross-process control signal surface.
type Channel interface {
	Get(ctx context.Context, runID string) (Command, error)
	Set(ctx context.Context, runID string, cmd Command) error
	Clear(ctx context.Context, runID string) error
}
