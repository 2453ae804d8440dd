package script

import "encoding/json"

// ValueType distinguishes the kinds of literal a Value node can carry.
type ValueType string

const (
	ValueIdentifier      ValueType = "identifier"
	ValueString          ValueType = "string"
	ValueNumber          ValueType = "number"
	ValueDate            ValueType = "date"
	ValueBool            ValueType = "bool"
	ValueParam           ValueType = "param"
	ValueScriptedValue   ValueType = "scripted_value"
	ValueInlineExpr      ValueType = "inline_expression"
	ValueOperator        ValueType = "operator"
)

// Node is implemented by every AST node variant. Serialization always goes
// through encoding/json with a "_type" discriminator (spec.md §6), so Node
// only needs to report that discriminator; json.Marshal handles the rest via
// each concrete type's own MarshalJSON.
type Node interface {
	NodeType() string
}

// Root is the top-level AST node for a single parsed file.
type Root struct {
	Filename string
	Children []Node
}

func (*Root) NodeType() string { return "root" }

// Block is a Key Op "{" Content "}" production.
type Block struct {
	Name     string
	Op       string // usually "=", but may be "==", "<=", etc.
	Children []Node
	Line     int
	Column   int
}

func (*Block) NodeType() string { return "block" }

// Assignment is a Key Op RHS production where RHS is not a brace-delimited
// block (a plain value, inline expression, or scripted reference).
type Assignment struct {
	Key    string
	Op     string
	Value  Node
	Line   int
	Column int
}

func (*Assignment) NodeType() string { return "assignment" }

// Value is a single literal/identifier/operator-as-value leaf.
type Value struct {
	Raw       string
	ValueType ValueType
	Line      int
	Column    int
}

func (*Value) NodeType() string { return "value" }

// List is a bracket-delimited `[ ... ]` sequence of values and assignments.
// Bare values inside a brace-delimited block, as in
// `potential = { always = yes 1 2 3 }`, are not a List: they are parsed as
// Value children of that Block.
type List struct {
	Items  []Node
	Line   int
	Column int
}

func (*List) NodeType() string { return "list" }

// --- JSON marshaling -------------------------------------------------------
//
// The wire format is a compact discriminated union (spec.md §6):
//   {"_type":"root","filename":str,"children":[...]}
//   {"_type":"block","name":str,"operator":str?,"line":int,"column":int,"children":[...]}
//   {"_type":"assignment","key":str,"operator":str,"value":...,"line":int,"column":int}
//   {"_type":"value","value":str,"value_type":str,"line":int,"column":int}
//   {"_type":"list","items":[...],"line":int,"column":int}

func (r *Root) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"_type"`
		Filename string `json:"filename"`
		Children []Node `json:"children"`
	}{"root", r.Filename, nonNilNodes(r.Children)})
}

func (b *Block) MarshalJSON() ([]byte, error) {
	type alias struct {
		Type     string `json:"_type"`
		Name     string `json:"name"`
		Operator string `json:"operator,omitempty"`
		Line     int    `json:"line"`
		Column   int    `json:"column"`
		Children []Node `json:"children"`
	}
	return json.Marshal(alias{"block", b.Name, opOrEmpty(b.Op), b.Line, b.Column, nonNilNodes(b.Children)})
}

func (a *Assignment) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"_type"`
		Key      string `json:"key"`
		Operator string `json:"operator"`
		Value    Node   `json:"value"`
		Line     int    `json:"line"`
		Column   int    `json:"column"`
	}{"assignment", a.Key, a.Op, a.Value, a.Line, a.Column})
}

func (v *Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string    `json:"_type"`
		Value     string    `json:"value"`
		ValueType ValueType `json:"value_type"`
		Line      int       `json:"line"`
		Column    int       `json:"column"`
	}{"value", v.Raw, v.ValueType, v.Line, v.Column})
}

func (l *List) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"_type"`
		Items  []Node `json:"items"`
		Line   int    `json:"line"`
		Column int    `json:"column"`
	}{"list", nonNilNodes(l.Items), l.Line, l.Column})
}

func opOrEmpty(op string) string {
	if op == "=" {
		return ""
	}
	return op
}

func nonNilNodes(nodes []Node) []Node {
	if nodes == nil {
		return []Node{}
	}
	return nodes
}
