package convai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrUnknownClientTool = errors.New("unknown client tool")

// ClientTool runs on the client when the agent calls it. The returned string
// is sent back to the agent as the tool result.
type ClientTool func(ctx context.Context, parameters map[string]any) (string, error)

// ClientTools is a registry of tools the agent may call on the client. It is
// safe for concurrent use.
type ClientTools struct {
	mu    sync.RWMutex
	tools map[string]ClientTool
}

func NewClientTools() *ClientTools {
	return &ClientTools{tools: map[string]ClientTool{}}
}

func (t *ClientTools) Register(name string, tool ClientTool) error {
	if name == "" {
		return fmt.Errorf("client tool name is required")
	} else if tool == nil {
		return fmt.Errorf("client tool %q has no handler", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tools[name]; ok {
		return fmt.Errorf("client tool %q already registered", name)
	}
	t.tools[name] = tool
	return nil
}

// Names lists the registered tools in alphabetical order.
func (t *ClientTools) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.tools))
	for name := range t.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (t *ClientTools) Execute(ctx context.Context, name string, parameters map[string]any) (string, error) {
	t.mu.RLock()
	tool, ok := t.tools[name]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownClientTool, name)
	}

	return tool(ctx, parameters)
}
