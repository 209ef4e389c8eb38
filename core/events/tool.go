package events

const (
	// KindClientToolCalled identifies a client tool call request.
	KindClientToolCalled Kind = "tool.client_called"
)

// ClientToolCalled carries a tool call the agent wants the client to run.
type ClientToolCalled struct {
	Base
	CallID     string
	ToolName   string
	Parameters map[string]any
}

// NewClientToolCalled creates a client tool called event.
func NewClientToolCalled(callID, toolName string, parameters map[string]any) ClientToolCalled {
	return ClientToolCalled{
		Base:       NewBase(KindClientToolCalled),
		CallID:     callID,
		ToolName:   toolName,
		Parameters: parameters,
	}
}
