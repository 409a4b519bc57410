package chart

import "strings"

// ResolveTarget applies the target-resolution rules of the chart grammar,
// in order:
//
//  1. "#id.a.b"  -> strip the leading "#id", yields "a.b"
//  2. ".x"       -> root-relative "x"
//  3. bare "x" present among the chart's root states -> root "x"
//  4. bare "x" with owner state "p.q", where "x" resides at "p"          -> sibling "p.x"
//  5. otherwise, the raw string is used as-given.
//
// ownerPath is the dotted path of the state that declares the transition
// being resolved; rootStates is the chart's top-level state table.
func ResolveTarget(chartId string, ownerPath string, raw string, rootStates map[string]*StateNode) StateId {
	if raw == "" {
		return ""
	}

	if strings.HasPrefix(raw, "#") {
		rest := raw[1:]
		prefix := chartId + "."
		if rest == chartId {
			return ""
		}
		if strings.HasPrefix(rest, prefix) {
			return StateId(rest[len(prefix):])
		}
		return StateId(rest)
	}

	if strings.HasPrefix(raw, ".") {
		return StateId(raw[1:])
	}

	if _, ok := rootStates[raw]; ok {
		return StateId(raw)
	}

	if idx := strings.LastIndex(ownerPath, "."); idx >= 0 {
		parent := ownerPath[:idx]
		if parentNode, ok := LookupPath(rootStates, parent); ok {
			if _, hasSibling := parentNode.Children[raw]; hasSibling {
				return StateId(parent + "." + raw)
			}
		}
	} else if ownerPath != "" {
		// ownerPath is itself a root state; "x" resides at the root scope
		// it belongs to, i.e. a sibling at the root.
		if _, ok := rootStates[raw]; ok {
			return StateId(raw)
		}
	}

	return StateId(raw)
}

// LookupPath walks a dotted path through a root state table, descending
// into Children at each segment. Exported so parser can validate resolved
// targets actually exist in the chart.
func LookupPath(rootStates map[string]*StateNode, path string) (*StateNode, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	children := rootStates
	var node *StateNode
	for i, seg := range segments {
		n, ok := children[seg]
		if !ok {
			return nil, false
		}
		node = n
		if i < len(segments)-1 {
			children = n.Children
		}
	}
	return node, true
}
