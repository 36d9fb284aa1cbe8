package resolution

import (
	"fmt"
	"math/rand"

	"github.com/occopus/infra-processor/internal/node"
)

// SelectionPolicy picks one definition out of an eligible, non-empty
// candidate set.
type SelectionPolicy func(candidates []*node.Definition) *node.Definition

var selectionPolicies = map[string]SelectionPolicy{
	"random": selectRandom,
	"first":  selectFirst,
}

func selectionPolicy(name string) (SelectionPolicy, error) {
	if name == "" {
		name = "random"
	}
	policy, ok := selectionPolicies[name]
	if !ok {
		return nil, fmt.Errorf("unknown backend selection strategy: %s", name)
	}
	return policy, nil
}

func selectRandom(candidates []*node.Definition) *node.Definition {
	return candidates[rand.Intn(len(candidates))]
}

func selectFirst(candidates []*node.Definition) *node.Definition {
	return candidates[0]
}

func matchesKeyword(def *node.Definition, keyword string) bool {
	if def.BackendID == keyword || def.ImplementationType == keyword {
		return true
	}
	if v, ok := def.Resource["keywords"].([]any); ok {
		for _, k := range v {
			if s, ok := k.(string); ok && s == keyword {
				return true
			}
		}
	}
	return false
}
