package pubsub

import "fmt"

// Events that agents may subscribe to. The server publishes these on the
// agent's own channels.
const (
	EventAgentUpdated      = "agente:updated"
	EventSessionStarted    = "pty:session_started"
	EventPtyInput          = "pty:input"
	EventDeploymentCreated = "implantacao:created"
	EventSessionEnded      = "pty:session_ended"

	// Events that agents publish towards terminal watchers.
	EventPtyOutput = "pty:output"
)

// AgentChannel returns the bus topic for an event addressed to one agent.
// The same (id, event) pair always yields the same topic and distinct
// pairs never collide: the id segment is numeric and the event names form
// a closed set.
func AgentChannel(agentID int64, event string) string {
	return fmt.Sprintf("agent:%d:%s", agentID, event)
}

// SessionOutputChannel returns the topic an agent's PTY output is
// published on. Terminal watchers subscribe here rather than on their own
// id, because the output is produced by the agent side.
func SessionOutputChannel(agentID int64) string {
	return fmt.Sprintf("session:%d:output", agentID)
}

// SessionEndedChannel returns the topic an agent announces the end of its
// PTY session on.
func SessionEndedChannel(agentID int64) string {
	return fmt.Sprintf("session:%d:ended", agentID)
}
