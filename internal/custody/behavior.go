package custody

import (
	"fmt"
	"strings"

	"github.com/r3e-network/agentcustody/internal/domain"
)

// AgentBehavior replaces the dynamic-dispatch "AI service" hierarchy the
// source's agents formed with a sealed set of
// per-agent implementations behind one interface — no reflection, no open
// type switch outside this package.
type AgentBehavior interface {
	BuildLearningPrompt(context string) string
	BuildCustodyPromptSuffix() string
	SynthesizeFallbackAnswer(scenario Scenario) string
}

// BehaviorFor returns the concrete AgentBehavior for agentType. The four
// implementations below are intentionally thin: their differences are in
// wording and keyword routing, not control flow.
func BehaviorFor(agentType domain.AgentType) AgentBehavior {
	switch agentType {
	case domain.Imperium:
		return imperiumBehavior{}
	case domain.Guardian:
		return guardianBehavior{}
	case domain.Sandbox:
		return sandboxBehavior{}
	case domain.Conquest:
		return conquestBehavior{}
	default:
		return imperiumBehavior{}
	}
}

const customSuffixTemplate = "Address the scenario directly, show your reasoning, include code or concrete examples where applicable, and demonstrate your specialization in %s."

type imperiumBehavior struct{}

func (imperiumBehavior) BuildLearningPrompt(context string) string {
	return fmt.Sprintf("As Imperium, the system-architecture and strategic-planning agent, learn from the following and extract durable design principles:\n%s", context)
}

func (imperiumBehavior) BuildCustodyPromptSuffix() string {
	return fmt.Sprintf(customSuffixTemplate, domain.Imperium.Specialization())
}

func (imperiumBehavior) SynthesizeFallbackAnswer(scenario Scenario) string {
	return synthesizeByKeyword(scenario, "architecture")
}

type guardianBehavior struct{}

func (guardianBehavior) BuildLearningPrompt(context string) string {
	return fmt.Sprintf("As Guardian, the security and defensive-engineering agent, learn from the following and extract durable hardening lessons:\n%s", context)
}

func (guardianBehavior) BuildCustodyPromptSuffix() string {
	return fmt.Sprintf(customSuffixTemplate, domain.Guardian.Specialization())
}

func (guardianBehavior) SynthesizeFallbackAnswer(scenario Scenario) string {
	return synthesizeByKeyword(scenario, "security")
}

type sandboxBehavior struct{}

func (sandboxBehavior) BuildLearningPrompt(context string) string {
	return fmt.Sprintf("As Sandbox, the experimentation and performance-analysis agent, learn from the following and extract durable benchmarking insights:\n%s", context)
}

func (sandboxBehavior) BuildCustodyPromptSuffix() string {
	return fmt.Sprintf(customSuffixTemplate, domain.Sandbox.Specialization())
}

func (sandboxBehavior) SynthesizeFallbackAnswer(scenario Scenario) string {
	return synthesizeByKeyword(scenario, "performance")
}

type conquestBehavior struct{}

func (conquestBehavior) BuildLearningPrompt(context string) string {
	return fmt.Sprintf("As Conquest, the cross-agent-collaboration and self-improvement agent, learn from the following and extract durable coordination patterns:\n%s", context)
}

func (conquestBehavior) BuildCustodyPromptSuffix() string {
	return fmt.Sprintf(customSuffixTemplate, domain.Conquest.Specialization())
}

func (conquestBehavior) SynthesizeFallbackAnswer(scenario Scenario) string {
	return synthesizeByKeyword(scenario, "collaboration")
}

// fallbackTemplates is the per-agent template bank keyed by scenario
// keyword (architecture, security, performance, collaboration,
// machine-learning, generic).
var fallbackTemplates = map[string]string{
	"architecture":     "Synthesized response: propose a layered architecture separating concerns, document the key interfaces, and call out the primary scalability risk.",
	"security":         "Synthesized response: enumerate the trust boundaries involved, apply least-privilege to each, and note the most likely attack vector and its mitigation.",
	"performance":      "Synthesized response: identify the dominant cost (CPU, memory, I/O), propose a targeted optimization, and estimate the expected improvement.",
	"collaboration":    "Synthesized response: define the shared contract between the collaborating agents and the failure mode if one side violates it.",
	"machine-learning": "Synthesized response: describe the training/evaluation split, the primary metric, and a concrete overfitting safeguard.",
	"generic":          "Synthesized response: restate the objective, list the constraints, and propose one concrete, testable next step.",
}

// fallbackKeywordOrder fixes the scan order for synthesizeByKeyword so a
// scenario whose text happens to mention more than one keyword always
// resolves the same template — ranging over fallbackTemplates directly would
// make that choice depend on Go's randomized map iteration order.
var fallbackKeywordOrder = []string{"architecture", "security", "performance", "collaboration", "machine-learning"}

// synthesizeByKeyword matches the scenario's declared keywords against the
// template bank, preferring the agent's default domain before falling back
// to "generic".
func synthesizeByKeyword(scenario Scenario, agentDefault string) string {
	lowered := strings.ToLower(scenario.Text + " " + strings.Join(scenario.Objectives, " "))
	for _, keyword := range fallbackKeywordOrder {
		if strings.Contains(lowered, keyword) {
			return fallbackTemplates[keyword]
		}
	}
	if template, ok := fallbackTemplates[agentDefault]; ok {
		return template
	}
	return fallbackTemplates["generic"]
}
