package control

import (
	"context"
	"fmt"
	"sync"
)

// MemoryChannel is an in-process Channel for tests and the demo wiring.
type MemoryChannel struct {
	mu       sync.Mutex
	commands map[string]Command
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{commands: map[string]Command{}}
}

func (c *MemoryChannel) Get(_ context.Context, runID string) (Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands[runID], nil
}

func (c *MemoryChannel) Set(_ context.Context, runID string, cmd Command) error {
	if NormalizeCommand(string(cmd)) == CommandNone {
		return fmt.Errorf("invalid command %q", cmd)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[runID] = cmd
	return nil
}

func (c *MemoryChannel) Clear(_ context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.commands, runID)
	return nil
}
