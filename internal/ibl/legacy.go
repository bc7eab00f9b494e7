package ibl

// legacyNodeNames maps retired node names to their current equivalent.
// Built once at package init and never mutated afterward: agents and
// saved pipelines authored against the old names keep working without
// every call site needing to special-case them.
var legacyNodeNames = map[string]string{
	"web":      "source",
	"search":   "source",
	"os":       "system",
	"fs":       "system",
	"ws":       "stream",
	"generate": "forge",
	"ui":       "interface",
	"chat":     "messenger",
}

// resolveLegacyNode returns the current node name for a possibly-legacy
// one, or the input unchanged if it has no legacy mapping.
func resolveLegacyNode(node string) string {
	if current, ok := legacyNodeNames[node]; ok {
		return current
	}
	return node
}
