package model

// Plan lists the schedulability transitions chosen for one cycle. A node
// never appears in both lists and critical nodes appear in neither.
type Plan struct {
	ToBlock   []string `json:"to_block"`
	ToUnblock []string `json:"to_unblock"`
}

// NetChange is the number of nodes newly excluded from scheduling; a
// negative value is the number of nodes restored.
func (p Plan) NetChange() int {
	return len(p.ToBlock) - len(p.ToUnblock)
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.ToBlock) == 0 && len(p.ToUnblock) == 0
}
