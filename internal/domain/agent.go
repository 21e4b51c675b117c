// Package domain holds the types shared by every core component: agent
// identity, metrics, test history, token ledgers, and proposals. It has no
// behavior of its own beyond small invariant-preserving helpers — mutation is
// funneled through internal/store.
package domain

import "fmt"

// AgentType is the sealed set of AI personas the system coordinates. The set
// is fixed at compile time; adding an agent requires a code change, not a
// config change.
type AgentType string

const (
	Imperium AgentType = "imperium"
	Guardian AgentType = "guardian"
	Sandbox  AgentType = "sandbox"
	Conquest AgentType = "conquest"
)

// AllAgentTypes lists every known agent in a stable order, used by anything
// that must enumerate agents deterministically (leaderboards, crash-recovery
// sweeps, config defaults).
func AllAgentTypes() []AgentType {
	return []AgentType{Imperium, Guardian, Sandbox, Conquest}
}

// Valid reports whether a is one of the sealed agent types.
func (a AgentType) Valid() bool {
	switch a {
	case Imperium, Guardian, Sandbox, Conquest:
		return true
	default:
		return false
	}
}

func (a AgentType) String() string { return string(a) }

// Specialization returns the agent's declared domain focus, consulted by
// prompt building and by fallback-answer synthesis keyword matching.
func (a AgentType) Specialization() string {
	switch a {
	case Imperium:
		return "system architecture and strategic planning"
	case Guardian:
		return "security review and defensive engineering"
	case Sandbox:
		return "experimentation and performance analysis"
	case Conquest:
		return "cross-agent collaboration and self-improvement"
	default:
		return "general-purpose engineering"
	}
}

// Difficulty is one of five totally ordered test difficulty levels.
type Difficulty int

const (
	Basic Difficulty = iota
	Intermediate
	Advanced
	Expert
	Master
)

var difficultyNames = [...]string{"basic", "intermediate", "advanced", "expert", "master"}

func (d Difficulty) String() string {
	if d < Basic || d > Master {
		return "unknown"
	}
	return difficultyNames[d]
}

// ParseDifficulty parses the canonical lowercase name back into a Difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	for i, name := range difficultyNames {
		if name == s {
			return Difficulty(i), nil
		}
	}
	return 0, fmt.Errorf("domain: unknown difficulty %q", s)
}

// Increase returns d raised by n levels, saturating at Master.
func (d Difficulty) Increase(n int) Difficulty {
	v := int(d) + n
	if v > int(Master) {
		v = int(Master)
	}
	return Difficulty(v)
}

// Decrease returns d lowered by n levels, saturating at Basic.
func (d Difficulty) Decrease(n int) Difficulty {
	v := int(d) - n
	if v < int(Basic) {
		v = int(Basic)
	}
	return Difficulty(v)
}

// PassThreshold returns the minimum overall_score required to pass a test at
// this difficulty.
func (d Difficulty) PassThreshold() float64 {
	switch d {
	case Basic, Intermediate:
		return 60
	case Advanced:
		return 65
	case Expert:
		return 70
	case Master:
		return 75
	default:
		return 75
	}
}

// BaseXP returns the XP awarded for a passing test at this difficulty, before
// the pass/fail multiplier.
func (d Difficulty) BaseXP() int {
	switch d {
	case Basic:
		return 50
	case Intermediate:
		return 100
	case Advanced:
		return 200
	case Expert:
		return 400
	case Master:
		return 800
	default:
		return 50
	}
}

// AgentStatus mirrors the scheduler's per-agent state machine.
type AgentStatus string

const (
	StatusIdle    AgentStatus = "idle"
	StatusRunning AgentStatus = "running"
	StatusCooldown AgentStatus = "cooldown"
	StatusBlocked AgentStatus = "blocked"
)

// RequiredXPForLevel returns the escalating XP gate for proposal eligibility
// at the given level.
func RequiredXPForLevel(level int) int {
	return 100 * level
}

// LevelForXP computes level = 1 + floor(xp / 1000).
func LevelForXP(xp float64) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + int(xp)/1000
}
