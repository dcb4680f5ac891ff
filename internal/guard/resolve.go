package guard

import "fmt"

// DefaultLabel labels the default guard set when a candy guard has no groups.
const DefaultLabel = "default"

// Resolve turns a candy guard's default guard set and groups into the list of
// groups to evaluate, following the program's merge rules:
//
//   - no groups: the default set is the only group, labelled DefaultLabel
//   - otherwise each group keeps its own conditions and inherits every default
//     condition whose type it does not set itself
//
// Group order is preserved. Duplicate labels are a configuration error.
func Resolve(defaults []Condition, groups []Group) ([]Group, error) {
	if len(groups) == 0 {
		return []Group{{Label: DefaultLabel, Conditions: append([]Condition(nil), defaults...)}}, nil
	}

	seen := make(map[string]struct{}, len(groups))
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		if _, dup := seen[g.Label]; dup {
			return nil, NewConfigurationError(fmt.Sprintf("duplicate guard group label %q", g.Label), nil)
		}
		seen[g.Label] = struct{}{}

		conds := append([]Condition(nil), g.Conditions...)
		for _, d := range defaults {
			if _, set := g.Find(d.Type); !set {
				conds = append(conds, d)
			}
		}
		out = append(out, Group{Label: g.Label, Conditions: conds})
	}
	return out, nil
}
