package scheduler

import (
	"context"
	"fmt"

	"github.com/r3e-network/agentcustody/internal/broker"
	"github.com/r3e-network/agentcustody/internal/custody"
	"github.com/r3e-network/agentcustody/internal/domain"
)

// DefaultLearningRunner drives one learning cycle through LLMBroker using
// the agent's declared specialization as learning context. Real "internet
// learning" fetchers are external collaborators; this default
// gives every agent a working cycle without one configured.
type DefaultLearningRunner struct {
	Broker *broker.Broker
}

func (r DefaultLearningRunner) RunLearningCycle(ctx context.Context, agentType domain.AgentType) error {
	behavior := custody.BehaviorFor(agentType)
	prompt := behavior.BuildLearningPrompt(fmt.Sprintf("recent developments relevant to %s", agentType.Specialization()))
	estimatedTokens := int64(len(prompt)/4) + 512
	_, err := r.Broker.Generate(ctx, agentType, prompt, 512, estimatedTokens)
	return err
}
