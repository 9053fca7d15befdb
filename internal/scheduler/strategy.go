package scheduler

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aristath/crew/internal/workflow"
)

// AssignmentStrategy picks which idle agent should take a ready task.
// idle is in workflow insertion order and never empty.
type AssignmentStrategy interface {
	Choose(task *workflow.Task, idle []*workflow.Agent) (agentID string, ok bool)
}

// Strategy names accepted by StrategyByName.
const (
	StrategyFirstIdle   = "first_idle"
	StrategySkillMatch  = "skill_match"
	StrategyLeastLoaded = "least_loaded"
)

// StrategyByName returns the strategy registered under name. An empty name
// selects FirstIdle.
func StrategyByName(name string) (AssignmentStrategy, error) {
	switch name {
	case "", StrategyFirstIdle:
		return FirstIdle{}, nil
	case StrategySkillMatch:
		return SkillMatch{}, nil
	case StrategyLeastLoaded:
		return LeastLoaded{}, nil
	default:
		return nil, fmt.Errorf("unknown assignment strategy %q", name)
	}
}

// FirstIdle picks the first idle agent.
type FirstIdle struct{}

func (FirstIdle) Choose(_ *workflow.Task, idle []*workflow.Agent) (string, bool) {
	if len(idle) == 0 {
		return "", false
	}
	return idle[0].ID, true
}

// SkillMatch picks the idle agent with the most skills named in the task
// title or description. Ties go to the earlier agent; with no match at all
// it behaves like FirstIdle.
type SkillMatch struct{}

func (SkillMatch) Choose(task *workflow.Task, idle []*workflow.Agent) (string, bool) {
	if len(idle) == 0 {
		return "", false
	}
	text := " " + normalizeWords(task.Title+" "+task.Description) + " "

	best, bestScore := idle[0].ID, 0
	for _, agent := range idle {
		score := 0
		for _, skill := range agent.Skills {
			phrase := normalizeWords(skill)
			if phrase != "" && strings.Contains(text, " "+phrase+" ") {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = agent.ID, score
		}
	}
	return best, true
}

// normalizeWords lowercases s and collapses every run of non-alphanumeric
// characters into one space.
func normalizeWords(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// LeastLoaded picks the idle agent that has completed the fewest tasks.
type LeastLoaded struct{}

func (LeastLoaded) Choose(_ *workflow.Task, idle []*workflow.Agent) (string, bool) {
	if len(idle) == 0 {
		return "", false
	}
	best := idle[0]
	for _, agent := range idle[1:] {
		if agent.Counter(workflow.StateCompletedTasks) < best.Counter(workflow.StateCompletedTasks) {
			best = agent
		}
	}
	return best.ID, true
}
