package pubsub

import "testing"

func TestAgentChannel(t *testing.T) {
	got := AgentChannel(42, EventDeploymentCreated)
	if got != "agent:42:implantacao:created" {
		t.Errorf("unexpected channel: %s", got)
	}
}

func TestAgentChannelDeterministic(t *testing.T) {
	a := AgentChannel(7, EventPtyInput)
	b := AgentChannel(7, EventPtyInput)
	if a != b {
		t.Errorf("expected deterministic channel, got %s and %s", a, b)
	}
}

func TestAgentChannelInjective(t *testing.T) {
	events := []string{
		EventAgentUpdated,
		EventSessionStarted,
		EventPtyInput,
		EventDeploymentCreated,
		EventSessionEnded,
	}
	ids := []int64{1, 2, 12, 21, 121}

	seen := make(map[string]string)
	for _, id := range ids {
		for _, event := range events {
			channel := AgentChannel(id, event)
			if prev, ok := seen[channel]; ok {
				t.Fatalf("channel %s collides with %s", channel, prev)
			}
			seen[channel] = channel
		}
	}
}

func TestSessionChannels(t *testing.T) {
	if got := SessionOutputChannel(9); got != "session:9:output" {
		t.Errorf("unexpected output channel: %s", got)
	}
	if got := SessionEndedChannel(9); got != "session:9:ended" {
		t.Errorf("unexpected ended channel: %s", got)
	}
}

func TestUserChannelResolvesTargetAgent(t *testing.T) {
	msg := &UserMessage{
		Type:  TypeSubscribe,
		Event: EventPtyOutput,
		Data:  &UserMessageData{IDAgent: 42},
	}

	// The topic is keyed by the referenced agent, not the subscriber.
	got := UserChannel("user-abc", msg)
	if got != "session:42:output" {
		t.Errorf("unexpected channel: %s", got)
	}
}
