package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
	"github.com/ck3user75233/ck3raven/pkg/locfile"
	"github.com/ck3user75233/ck3raven/pkg/script"
	"github.com/ck3user75233/ck3raven/pkg/store"
)

// execute resolves task's file context and runs its envelope's steps in
// order (spec.md §4.7 step 3). Steps share state across the call (parsed
// AST, parsed localization file) since extract_symbols/extract_refs and
// parse_loc/extract_loc_entries are always paired in the same envelope.
func (p *Pool) execute(ctx context.Context, task store.BuildTask) error {
	fc, err := p.store.ResolveFileContext(ctx, task.FileID)
	if err != nil {
		return fmt.Errorf("worker: resolve file context: %w", err)
	}

	steps := p.routes.Steps(task.Envelope)
	if steps == nil {
		return &ck3err.ExtractionError{Step: "route", Err: fmt.Errorf("unknown envelope %q", task.Envelope)}
	}

	var (
		astID    int64
		root     *script.Root
		symbols  []store.Symbol
		refs     []store.Ref
		locFile  *locfile.File
		locEntry []store.LocEntry
	)

	for _, step := range steps {
		switch step {
		case "parse":
			astID, root, err = p.stepParse(ctx, fc)
		case "extract_symbols":
			if root != nil {
				symbols = p.tables.Symbols(root, fc.Relpath, fc.CVID, fc.FileID, astID)
			}
		case "extract_refs":
			if root != nil {
				refs = p.tables.Refs(root, fc.FileID, astID)
			}
		case "parse_loc":
			locFile, err = p.stepParseLoc(ctx, fc)
		case "extract_loc_entries":
			if locFile != nil {
				locEntry = toLocEntries(locFile, fc.ContentHash)
			}
		case "extract_characters", "extract_provinces", "extract_titles",
			"extract_dynasties", "extract_holy_sites", "extract_names":
			// Pass-through: symbol_kinds.json already routes these subtrees to
			// their specific kind, so generic extract_symbols/extract_refs above
			// covers them; no extra extraction step is needed per file.
		case "extract_title_history":
			// Stubbed per Open Question decision 3 (DESIGN.md): registered here
			// so the step name resolves, but no shipped envelope selects it.
			return ck3err.ErrNotImplemented
		default:
			err = fmt.Errorf("unknown build step %q", step)
		}
		if err != nil {
			return &ck3err.ExtractionError{Step: step, Err: err}
		}
	}

	if root != nil {
		if err := p.store.ReplaceFileSymbolsAndRefs(ctx, fc.FileID, symbols, refs); err != nil {
			return &ck3err.ExtractionError{Step: "extract_refs", Err: err}
		}
	}
	if locFile != nil {
		if err := p.store.ReplaceLocEntries(ctx, fc.ContentHash, locEntry); err != nil {
			return &ck3err.ExtractionError{Step: "extract_loc_entries", Err: err}
		}
	}
	return nil
}

// stepParse is idempotent: a stored AST for (content_hash, ParserVersion)
// is reused rather than reparsed (spec.md §4.3). Parsing itself runs on a
// goroutine bounded by parseTimeout — the Go-native stand-in for the
// original system's subprocess isolation (Open Question decision 5).
func (p *Pool) stepParse(ctx context.Context, fc store.FileContext) (int64, *script.Root, error) {
	if id, err := p.store.GetASTID(ctx, fc.ContentHash, ParserVersion); err == nil {
		blob, err := p.store.GetAST(ctx, fc.ContentHash, ParserVersion)
		if err != nil {
			return 0, nil, err
		}
		var root script.Root
		if err := json.Unmarshal(blob, &root); err != nil {
			return 0, nil, fmt.Errorf("worker: decode cached ast for %s: %w", fc.Relpath, err)
		}
		return id, &root, nil
	}

	src, err := p.store.GetFileContent(ctx, fc.ContentHash)
	if err != nil {
		return 0, nil, fmt.Errorf("worker: load content %s: %w", fc.ContentHash, err)
	}

	type parseResult struct {
		root *script.Root
		err  error
	}
	done := make(chan parseResult, 1)
	go func() {
		root, err := parseScript(fc.Relpath, string(src))
		done <- parseResult{root, err}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, parseTimeout)
	defer cancel()

	select {
	case <-timeoutCtx.Done():
		if p.metrics != nil {
			p.metrics.ParseTimeouts.Inc()
		}
		return 0, nil, &ck3err.ParseTimeoutError{Budget: parseTimeout.String()}
	case res := <-done:
		if res.err != nil {
			return 0, nil, res.err
		}
		astJSON, err := json.Marshal(res.root)
		if err != nil {
			return 0, nil, fmt.Errorf("worker: encode ast for %s: %w", fc.Relpath, err)
		}
		id, err := p.store.StoreAST(ctx, fc.ContentHash, ParserVersion, astJSON, true, len(res.root.Children), "")
		if err != nil {
			return 0, nil, err
		}
		return id, res.root, nil
	}
}

func (p *Pool) stepParseLoc(ctx context.Context, fc store.FileContext) (*locfile.File, error) {
	raw, err := p.store.GetFileContent(ctx, fc.ContentHash)
	if err != nil {
		return nil, &ck3err.IOError{Path: fc.Relpath, Err: err}
	}
	return parseLoc(fc.Relpath, string(raw))
}

func toLocEntries(f *locfile.File, contentHash string) []store.LocEntry {
	out := make([]store.LocEntry, 0, len(f.Entries))
	for _, e := range f.Entries {
		out = append(out, store.LocEntry{
			ContentHash: contentHash,
			Language:    f.Language,
			Key:         e.Key,
			Version:     e.Version,
			RawValue:    e.RawValue,
			PlainValue:  e.PlainValue,
			Line:        e.Line,
		})
	}
	return out
}
