package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToJSON converts a Graph to an indented JSON string.
func (g *Graph) ToJSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	return string(data), nil
}

// ToYAML converts a Graph to a YAML string.
func (g *Graph) ToYAML() (string, error) {
	data, err := yaml.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("failed to marshal to YAML: %w", err)
	}
	return string(data), nil
}

// GraphFromJSON parses and validates a JSON graph definition.
func GraphFromJSON(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from JSON: %w", err)
	}
	if err := ValidateGraph(&g); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &g, nil
}

// GraphFromYAML parses and validates a YAML graph definition.
func GraphFromYAML(data []byte) (*Graph, error) {
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from YAML: %w", err)
	}
	if err := ValidateGraph(&g); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &g, nil
}

// LoadGraphFile loads a definition, choosing the format by extension
// (.json, .yaml or .yml).
func LoadGraphFile(filename string) (*Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return GraphFromJSON(data)
	case ".yaml", ".yml":
		return GraphFromYAML(data)
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", filename)
	}
}

// SaveGraphFile writes g in the format implied by the file extension.
func SaveGraphFile(g *Graph, filename string) error {
	var (
		out string
		err error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		out, err = g.ToJSON()
	case ".yaml", ".yml":
		out, err = g.ToYAML()
	default:
		return fmt.Errorf("unsupported definition format: %s", filename)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write definition file: %w", err)
	}
	return nil
}

// ValidateGraph checks a definition before it is accepted: a graph id,
// unique non-empty node ids with a type, edges between declared nodes (or
// from the trigger pseudo-sources), and no dependency cycle.
func ValidateGraph(g *Graph) error {
	if g == nil {
		return ErrNilGraph
	}
	if g.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("workflow must have at least one node")
	}

	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.ID == "" {
			return fmt.Errorf("node ID is required")
		}
		if nodeIDs[node.ID] {
			return fmt.Errorf("duplicate node ID: %s", node.ID)
		}
		nodeIDs[node.ID] = true

		if node.Type == "" {
			return fmt.Errorf("node %s: type is required", node.ID)
		}
	}

	for i, e := range g.Edges {
		if !nodeIDs[e.Source] && e.Source != WorkflowInputKey && e.Source != WorkflowTriggerContextKey {
			return fmt.Errorf("edge %d: source node %s does not exist", i, e.Source)
		}
		if !nodeIDs[e.Target] {
			return fmt.Errorf("edge %d: target node %s does not exist", i, e.Target)
		}
	}

	if _, err := Order(g.Nodes, g.Edges); err != nil {
		return err
	}
	return nil
}
