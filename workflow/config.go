// Package workflow owns the work-order lifecycle: the status graph, per
// tenant graph overrides with activation-time validation, and the
// transition, hold and resume operations.
package workflow

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Config is a workflow graph. The canonical default applies to tenants
// without an activated override; overrides must pass Validate before they
// are stored.
type Config struct {
	Statuses    []string            `yaml:"statuses"`
	Start       string              `yaml:"start"`
	Terminals   []string            `yaml:"terminals"`
	HoldNodes   []string            `yaml:"hold_nodes"`
	Transitions map[string][]string `yaml:"transitions"`
}

// DefaultConfig is the canonical status graph.
func DefaultConfig() Config {
	return Config{
		Statuses: []string{
			string(domain.StatusReceived), string(domain.StatusDispatched),
			string(domain.StatusInWIP), string(domain.StatusOnHold),
			string(domain.StatusCompleted), string(domain.StatusShipped),
			string(domain.StatusClosed), string(domain.StatusCancelled),
			string(domain.StatusRejected),
		},
		Start: string(domain.StatusReceived),
		Terminals: []string{
			string(domain.StatusClosed), string(domain.StatusCancelled),
			string(domain.StatusRejected),
		},
		HoldNodes: []string{string(domain.StatusOnHold)},
		Transitions: map[string][]string{
			string(domain.StatusReceived): {
				string(domain.StatusDispatched), string(domain.StatusOnHold),
				string(domain.StatusCancelled),
			},
			string(domain.StatusDispatched): {
				string(domain.StatusInWIP), string(domain.StatusOnHold),
				string(domain.StatusReceived),
			},
			string(domain.StatusInWIP): {
				string(domain.StatusCompleted), string(domain.StatusOnHold),
				string(domain.StatusDispatched),
			},
			string(domain.StatusCompleted): {
				string(domain.StatusShipped), string(domain.StatusInWIP),
			},
			string(domain.StatusShipped): {string(domain.StatusClosed)},
		},
	}
}

var statusName = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Validate enforces the activation rules. The first violated rule is named
// in the returned VALIDATION error.
func (c Config) Validate() error {
	if len(c.Statuses) == 0 {
		return domain.Validation("statuses", "workflow defines no statuses")
	}

	seen := map[string]bool{}
	for _, s := range c.Statuses {
		if !statusName.MatchString(s) {
			return domain.Validation("statuses", fmt.Sprintf("status name %q is not UPPER_SNAKE", s))
		}
		if seen[s] {
			return domain.Validation("statuses", fmt.Sprintf("duplicate status %q", s))
		}
		seen[s] = true
	}

	if c.Start != string(domain.StatusReceived) {
		return domain.Validation("start", "workflow start status must be RECEIVED")
	}
	if !seen[c.Start] {
		return domain.Validation("start", "start status is not in the status set")
	}

	terminal := map[string]bool{}
	hasCanonicalTerminal := false
	for _, t := range c.Terminals {
		if !seen[t] {
			return domain.Validation("terminals", fmt.Sprintf("terminal %q is not in the status set", t))
		}
		terminal[t] = true
		switch t {
		case string(domain.StatusClosed), string(domain.StatusCancelled), string(domain.StatusRejected):
			hasCanonicalTerminal = true
		}
	}
	if !hasCanonicalTerminal {
		return domain.Validation("terminals", "workflow needs a terminal among CLOSED, CANCELLED, REJECTED")
	}

	hold := map[string]bool{}
	for _, h := range c.HoldNodes {
		if !seen[h] {
			return domain.Validation("hold_nodes", fmt.Sprintf("hold node %q is not in the status set", h))
		}
		if terminal[h] {
			return domain.Validation("hold_nodes", fmt.Sprintf("hold node %q cannot be terminal", h))
		}
		hold[h] = true
	}

	for from, tos := range c.Transitions {
		if !seen[from] {
			return domain.Validation("transitions", fmt.Sprintf("transition from unknown status %q", from))
		}
		if terminal[from] {
			return domain.Validation("transitions", fmt.Sprintf("terminal status %q cannot have outgoing transitions", from))
		}
		for _, to := range tos {
			if !seen[to] {
				return domain.Validation("transitions", fmt.Sprintf("transition to unknown status %q", to))
			}
		}
	}

	// Every status reachable from start. Hold nodes resume to whichever
	// status held, so they contribute return edges to every status with an
	// edge into them.
	reach := c.reachableFrom(c.Start)
	for _, s := range c.Statuses {
		if !reach[s] {
			return domain.Validation("transitions", fmt.Sprintf("status %q is unreachable from start", s))
		}
	}

	// Every non-terminal reaches a terminal; hold nodes are exempt because
	// resumption restores the held status.
	for _, s := range c.Statuses {
		if terminal[s] || hold[s] {
			continue
		}
		if !c.reachesTerminal(s, terminal, hold) {
			return domain.Validation("transitions", fmt.Sprintf("status %q cannot reach a terminal", s))
		}
	}

	return nil
}

// reachableFrom walks the graph, treating a hold node as returning to every
// status that can enter it.
func (c Config) reachableFrom(start string) map[string]bool {
	hold := map[string]bool{}
	for _, h := range c.HoldNodes {
		hold[h] = true
	}
	resume := map[string][]string{}
	for from, tos := range c.Transitions {
		for _, to := range tos {
			if hold[to] {
				resume[to] = append(resume[to], from)
			}
		}
	}

	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := append([]string(nil), c.Transitions[cur]...)
		next = append(next, resume[cur]...)
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

func (c Config) reachesTerminal(from string, terminal, hold map[string]bool) bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if terminal[cur] {
			return true
		}
		for _, n := range c.Transitions[cur] {
			if hold[n] {
				// A hold resumes back to cur, which is already seen; skip.
				continue
			}
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false
}

// Allows reports whether the edge from→to is in the graph. Entering a
// declared hold node is always edge-checked; leaving one goes through
// Resume, never through Allows.
func (c Config) Allows(from, to domain.WorkOrderStatus) bool {
	for _, t := range c.Transitions[string(from)] {
		if t == string(to) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the lifecycle.
func (c Config) IsTerminal(s domain.WorkOrderStatus) bool {
	for _, t := range c.Terminals {
		if t == string(s) {
			return true
		}
	}
	return false
}

// IsHoldNode reports whether the status is a declared hold node.
func (c Config) IsHoldNode(s domain.WorkOrderStatus) bool {
	for _, h := range c.HoldNodes {
		if h == string(s) {
			return true
		}
	}
	return false
}

// Render serializes the config to canonical YAML: sorted keys, sorted
// transition targets, so Render∘Parse is the identity on normalized
// configs.
func (c Config) Render() (string, error) {
	norm := c
	norm.Statuses = append([]string(nil), c.Statuses...)
	norm.Terminals = sortedCopy(c.Terminals)
	norm.HoldNodes = sortedCopy(c.HoldNodes)
	norm.Transitions = map[string][]string{}
	for from, tos := range c.Transitions {
		norm.Transitions[from] = sortedCopy(tos)
	}
	out, err := yaml.Marshal(norm)
	if err != nil {
		return "", domain.Internal(err, "workflow config not serializable")
	}
	return string(out), nil
}

// Parse deserializes a stored config. Stored configs were validated at
// activation, but Parse re-validates to catch hand-edited definitions.
func Parse(definition string) (Config, error) {
	var c Config
	if err := yaml.Unmarshal([]byte(definition), &c); err != nil {
		return Config{}, domain.Validation("definition", "workflow definition is not valid YAML")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
