package chart

// Validate rejects structurally invalid charts; it is exported for
// collaborators that assemble a Chart by decoding it themselves (see
// pkg/chart/parser) rather than through Builder, which calls it
// internally on Build().
func Validate(c *Chart) error {
	return validateChart(c)
}

// validateChart rejects structurally invalid charts: a compound state
// lacking an initial child unless it is parallel or every child is final.
func validateChart(c *Chart) error {
	if c.Id == "" {
		return &DefinitionError{Message: "chart id must not be empty"}
	}
	if c.Kind == Compound && c.Initial == "" && !allFinal(c.States) {
		return &DefinitionError{Path: c.Id, Message: "compound chart root missing initial state"}
	}
	for name, node := range c.States {
		if err := validateNode(name, node); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(path string, node *StateNode) error {
	switch node.Kind {
	case Compound:
		if node.Initial == "" && !allFinal(node.Children) {
			return &DefinitionError{Path: path, Message: "compound state missing initial child"}
		}
	case History:
		if node.History == NoHistory {
			return &DefinitionError{Path: path, Message: "history state missing shallow/deep designation"}
		}
	}
	for name, child := range node.Children {
		if err := validateNode(path+"."+name, child); err != nil {
			return err
		}
	}
	return nil
}

func allFinal(children map[string]*StateNode) bool {
	if len(children) == 0 {
		return false
	}
	for _, c := range children {
		if c.Kind != Final {
			return false
		}
	}
	return true
}
