package interp

import (
	"strings"

	"github.com/hyperion-automation/statecore/pkg/chart"
)

// nodeAt resolves a dotted StateId against the chart's root state table.
func (it *Interpreter) nodeAt(path chart.StateId) (*chart.StateNode, bool) {
	return chart.LookupPath(it.chart.States, string(path))
}

// ancestorChain returns path and every proper prefix of it, deepest
// first, down to (but not including) the empty root path.
func ancestorChain(path chart.StateId) []chart.StateId {
	if path == "" {
		return nil
	}
	segments := strings.Split(string(path), ".")
	out := make([]chart.StateId, 0, len(segments))
	for i := len(segments); i >= 1; i-- {
		out = append(out, chart.StateId(strings.Join(segments[:i], ".")))
	}
	return out
}

// lcaPath returns the longest common dotted-segment prefix of a and b;
// "" means the chart root itself.
func lcaPath(a, b chart.StateId) chart.StateId {
	as := strings.Split(string(a), ".")
	bs := strings.Split(string(b), ".")
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	i := 0
	for i < n && as[i] == bs[i] {
		i++
	}
	if i == 0 {
		return ""
	}
	return chart.StateId(strings.Join(as[:i], "."))
}

// isProperPrefix reports whether ancestor is a strict dotted prefix of
// descendant (or "" meaning the root, which is a prefix of everything).
func isProperPrefix(ancestor, descendant chart.StateId) bool {
	if ancestor == "" {
		return descendant != ""
	}
	s := string(descendant)
	a := string(ancestor)
	return len(s) > len(a) && strings.HasPrefix(s, a) && s[len(a)] == '.'
}

func parentOf(path chart.StateId) chart.StateId {
	idx := strings.LastIndex(string(path), ".")
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func lastSegment(path chart.StateId) string {
	idx := strings.LastIndex(string(path), ".")
	if idx < 0 {
		return string(path)
	}
	return string(path[idx+1:])
}

func joinSeg(parent chart.StateId, child string) chart.StateId {
	if parent == "" {
		return chart.StateId(child)
	}
	return parent + "." + chart.StateId(child)
}

// toLocal translates an absolute StateId (resolved once, globally, at parse
// time) into this interpreter's own namespace. Top-level interpreters
// (rootPrefix == "") are identity; a region sub-interpreter's namespace is
// rootPrefix stripped off. ok is false when absolute names something
// outside this interpreter's own subtree — the caller's cross-region case.
func (it *Interpreter) toLocal(absolute chart.StateId) (chart.StateId, bool) {
	if it.rootPrefix == "" {
		return absolute, true
	}
	if absolute == it.rootPrefix {
		return "", true
	}
	if isProperPrefix(it.rootPrefix, absolute) {
		return absolute[len(it.rootPrefix)+1:], true
	}
	return "", false
}

// toAbsolute is the inverse of toLocal.
func (it *Interpreter) toAbsolute(local chart.StateId) chart.StateId {
	if it.rootPrefix == "" {
		return local
	}
	if local == "" {
		return it.rootPrefix
	}
	return it.rootPrefix + "." + local
}
