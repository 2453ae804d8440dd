package script

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON reconstructs a Root (and its full Node tree) from the
// discriminated-union wire format documented in ast.go. This is the inverse
// of MarshalJSON and is what lets a worker reload a cached AST from the
// store instead of reparsing (spec.md §4.3).
func (r *Root) UnmarshalJSON(data []byte) error {
	var aux struct {
		Filename string            `json:"filename"`
		Children []json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	children, err := decodeNodes(aux.Children)
	if err != nil {
		return err
	}
	r.Filename = aux.Filename
	r.Children = children
	return nil
}

func decodeNodes(raws []json.RawMessage) ([]Node, error) {
	out := make([]Node, 0, len(raws))
	for _, raw := range raws {
		n, err := decodeNode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func decodeNode(raw json.RawMessage) (Node, error) {
	var disc struct {
		Type string `json:"_type"`
	}
	if err := json.Unmarshal(raw, &disc); err != nil {
		return nil, err
	}

	switch disc.Type {
	case "block":
		var aux struct {
			Name     string            `json:"name"`
			Operator string            `json:"operator"`
			Line     int               `json:"line"`
			Column   int               `json:"column"`
			Children []json.RawMessage `json:"children"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		children, err := decodeNodes(aux.Children)
		if err != nil {
			return nil, err
		}
		op := aux.Operator
		if op == "" {
			op = "="
		}
		return &Block{Name: aux.Name, Op: op, Children: children, Line: aux.Line, Column: aux.Column}, nil

	case "assignment":
		var aux struct {
			Key      string          `json:"key"`
			Operator string          `json:"operator"`
			Value    json.RawMessage `json:"value"`
			Line     int             `json:"line"`
			Column   int             `json:"column"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		val, err := decodeNode(aux.Value)
		if err != nil {
			return nil, err
		}
		return &Assignment{Key: aux.Key, Op: aux.Operator, Value: val, Line: aux.Line, Column: aux.Column}, nil

	case "value":
		var aux struct {
			Value     string    `json:"value"`
			ValueType ValueType `json:"value_type"`
			Line      int       `json:"line"`
			Column    int       `json:"column"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		return &Value{Raw: aux.Value, ValueType: aux.ValueType, Line: aux.Line, Column: aux.Column}, nil

	case "list":
		var aux struct {
			Items  []json.RawMessage `json:"items"`
			Line   int               `json:"line"`
			Column int               `json:"column"`
		}
		if err := json.Unmarshal(raw, &aux); err != nil {
			return nil, err
		}
		items, err := decodeNodes(aux.Items)
		if err != nil {
			return nil, err
		}
		return &List{Items: items, Line: aux.Line, Column: aux.Column}, nil

	default:
		return nil, fmt.Errorf("script: unknown node type %q", disc.Type)
	}
}
