package extract

import (
	"github.com/ck3user75233/ck3raven/pkg/script"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// docKeys are the well-known child assignment keys harvested as a symbol's
// signature/doc string, tried in order — first string literal found wins.
// Grounded on the "walk known child keys, return first string literal"
// technique pkg/sigparse applies to Go signatures, adapted here to AST
// child nodes instead of raw text spans.
var docKeys = []string{"desc", "description"}

// Symbols walks root's top-level children and returns one Symbol per
// top-level block (keyed by block name) or, for path prefixes whose kind is
// a flat key/value table (e.g. common/defines), one Symbol per top-level
// assignment (keyed by the assignment key).
func (t *Tables) Symbols(root *script.Root, relpath string, cvID, fileID, astID int64) []store.Symbol {
	kind, ok := t.SymbolKindOf(relpath)
	if !ok {
		return nil
	}

	var out []store.Symbol
	for _, child := range root.Children {
		switch n := child.(type) {
		case *script.Block:
			out = append(out, store.Symbol{
				Kind:      kind,
				Name:      n.Name,
				CVID:      cvID,
				FileID:    fileID,
				ASTID:     astID,
				Line:      n.Line,
				Signature: harvestDoc(n.Children),
			})
		case *script.Assignment:
			out = append(out, store.Symbol{
				Kind:   kind,
				Name:   n.Key,
				CVID:   cvID,
				FileID: fileID,
				ASTID:  astID,
				Line:   n.Line,
			})
		}
	}
	return out
}

func harvestDoc(children []script.Node) string {
	for _, key := range docKeys {
		for _, child := range children {
			a, ok := child.(*script.Assignment)
			if !ok || a.Key != key {
				continue
			}
			if v, ok := a.Value.(*script.Value); ok && v.ValueType == script.ValueString {
				return v.Raw
			}
		}
	}
	return ""
}

// Refs walks the full AST (not just top-level children) and returns one Ref
// per assignment whose key is in REFERENCE_KEYS or SCRIPT_REFERENCE_KEYS and
// whose value is a literal (values starting with "$" are parameters and are
// ignored, per spec.md §4.5). context is set to the nearest enclosing
// effect/trigger-opening key, if any.
func (t *Tables) Refs(root *script.Root, fileID, astID int64) []store.Ref {
	var out []store.Ref
	for _, child := range root.Children {
		t.walkRefs(child, fileID, astID, "", &out)
	}
	return out
}

func (t *Tables) walkRefs(n script.Node, fileID, astID int64, context string, out *[]store.Ref) {
	switch node := n.(type) {
	case *script.Block:
		ctx := context
		if t.IsEffectTriggerKey(node.Name) {
			ctx = node.Name
		}
		for _, child := range node.Children {
			t.walkRefs(child, fileID, astID, ctx, out)
		}

	case *script.Assignment:
		if kind, _, ok := t.ReferenceKindOf(node.Key); ok {
			if name, ok := literalRefName(node.Value); ok {
				*out = append(*out, store.Ref{
					Kind:    kind,
					Name:    name,
					FileID:  fileID,
					ASTID:   astID,
					Line:    node.Line,
					Context: context,
				})
			}
		}

		ctx := context
		if t.IsEffectTriggerKey(node.Key) {
			ctx = node.Key
		}
		t.walkRefs(node.Value, fileID, astID, ctx, out)

	case *script.List:
		for _, item := range node.Items {
			t.walkRefs(item, fileID, astID, context, out)
		}
	}
}

// literalRefName extracts a referenceable name from a value node, excluding
// parameters ($x) and non-literal forms (scripted values / inline
// expressions are not names, they're computed).
func literalRefName(n script.Node) (string, bool) {
	v, ok := n.(*script.Value)
	if !ok {
		return "", false
	}
	switch v.ValueType {
	case script.ValueIdentifier, script.ValueString:
		return v.Raw, true
	default:
		return "", false
	}
}
