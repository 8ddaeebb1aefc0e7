package journey

import (
	"encoding/json"
	"fmt"

	"github.com/voyagehq/voyage/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Violation is one structural problem found in a journey definition.
type Violation struct {
	Code    string `json:"code"`
	Subject string `json:"subject,omitempty"` // node or edge id when applicable
	Message string `json:"message"`
}

// ValidationResult carries every violation found, not just the first, so the
// editor can surface them all at once.
type ValidationResult struct {
	Violations []Violation `json:"violations"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Violations) == 0
}

func (r *ValidationResult) add(code, subject, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Code:    code,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validator statically checks a journey definition. It runs once at
// activation (draft to active); failures block activation so structural
// errors never reach execution.
type Validator struct {
	schema *gojsonschema.Schema
}

func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(definitionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

func (v *Validator) Validate(def models.Definition) *ValidationResult {
	result := &ValidationResult{}

	if !v.checkSchema(def, result) {
		return result
	}

	v.checkNodes(def, result)
	v.checkEdges(def, result)
	v.checkDegrees(def, result)
	v.checkCycles(def, result)

	return result
}

func (v *Validator) checkSchema(def models.Definition, result *ValidationResult) bool {
	raw, err := json.Marshal(def)
	if err != nil {
		result.add("schema", "", "definition is not serializable: %v", err)

		return false
	}

	schemaResult, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		result.add("schema", "", "schema validation failed: %v", err)

		return false
	}

	for _, desc := range schemaResult.Errors() {
		result.add("schema", desc.Field(), "%s", desc.String())
	}

	return schemaResult.Valid()
}

func (v *Validator) checkNodes(def models.Definition, result *ValidationResult) {
	seen := make(map[string]bool, len(def.Nodes))
	triggers := 0
	exits := 0

	for _, node := range def.Nodes {
		if seen[node.ID] {
			result.add("duplicate_node", node.ID, "node id %q appears more than once", node.ID)
		}

		seen[node.ID] = true

		if !node.PayloadMatchesType() {
			result.add("payload_mismatch", node.ID, "node %q payload does not match declared type %q", node.ID, node.Type)
		}

		switch node.Type {
		case models.NodeTypeTrigger:
			triggers++
		case models.NodeTypeExit:
			exits++
		}
	}

	if triggers != 1 {
		result.add("trigger_count", "", "journey must have exactly one trigger node, found %d", triggers)
	}

	if exits == 0 {
		result.add("no_exit", "", "journey must have at least one exit node")
	}
}

func (v *Validator) checkEdges(def models.Definition, result *ValidationResult) {
	graph := NewGraph(def)

	for _, edge := range def.Edges {
		source, sourceOK := graph.Node(edge.Source)
		if !sourceOK {
			result.add("dangling_edge", edge.ID, "edge %q references unknown source node %q", edge.ID, edge.Source)
		}

		if _, ok := graph.Node(edge.Target); !ok {
			result.add("dangling_edge", edge.ID, "edge %q references unknown target node %q", edge.ID, edge.Target)
		}

		if sourceOK {
			if source.Type == models.NodeTypeSplit && edge.Branch == "" {
				result.add("unlabeled_branch", edge.ID, "edge %q leaving split node %q must carry a yes/no label", edge.ID, edge.Source)
			}

			if source.Type != models.NodeTypeSplit && edge.Branch != "" {
				result.add("stray_branch", edge.ID, "edge %q carries branch label %q but %q is not a split node", edge.ID, edge.Branch, edge.Source)
			}
		}
	}
}

func (v *Validator) checkDegrees(def models.Definition, result *ValidationResult) {
	graph := NewGraph(def)

	for _, node := range def.Nodes {
		incoming := graph.Incoming(node.ID)
		outgoing := graph.Outgoing(node.ID)

		switch node.Type {
		case models.NodeTypeTrigger:
			if len(incoming) > 0 {
				result.add("trigger_incoming", node.ID, "trigger node %q must not have incoming edges", node.ID)
			}

			if len(outgoing) != 1 {
				result.add("trigger_outgoing", node.ID, "trigger node %q must have exactly one outgoing edge, found %d", node.ID, len(outgoing))
			}
		case models.NodeTypeExit:
			if len(outgoing) > 0 {
				result.add("exit_outgoing", node.ID, "exit node %q must not have outgoing edges", node.ID)
			}
		case models.NodeTypeSplit:
			yes, no := 0, 0

			for _, edge := range outgoing {
				switch edge.Branch {
				case models.BranchYes:
					yes++
				case models.BranchNo:
					no++
				}
			}

			if yes != 1 || no != 1 {
				result.add("split_branches", node.ID, "split node %q must have exactly one yes and one no edge, found %d yes / %d no", node.ID, yes, no)
			}
		default:
			if len(outgoing) < 1 {
				result.add("dead_end", node.ID, "node %q has no outgoing edge and is not an exit", node.ID)
			}
		}
	}
}

func (v *Validator) checkCycles(def models.Definition, result *ValidationResult) {
	graph := NewGraph(def)

	if on := graph.cycleFromTrigger(); on != "" {
		result.add("cycle", on, "graph contains a cycle reachable from the trigger through node %q", on)
	}
}
