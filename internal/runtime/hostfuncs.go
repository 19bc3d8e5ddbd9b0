package runtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/risor-io/risor/object"

	"github.com/jward/mallard/internal/coordinator"
	"github.com/jward/mallard/internal/extract"
	"github.com/jward/mallard/internal/naming"
	"github.com/jward/mallard/internal/symbols"
	"github.com/jward/mallard/internal/vba"
)

// scratchProject is the project parsed modules are attached to.
const scratchProject = "Script"

// makeFoldFn creates "fold", the case folding used for VBA identifiers.
//
// fold(name) → string
func makeFoldFn() *object.Builtin {
	return object.NewBuiltin("fold", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("fold", 1, len(args))
		}
		s, err := toString(args[0])
		if err != nil {
			return object.Errorf("fold: %v", err)
		}
		return object.NewString(naming.Fold(s))
	})
}

// makeDigestFn creates "digest", the content digest stored with modules.
//
// digest(src) → string
func makeDigestFn() *object.Builtin {
	return object.NewBuiltin("digest", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("digest", 1, len(args))
		}
		s, err := toString(args[0])
		if err != nil {
			return object.Errorf("digest: %v", err)
		}
		return object.NewString(coordinator.Digest([]byte(s)))
	})
}

// makeModuleKindFn creates "module_kind". It returns nil for paths that
// are not VBA module files.
//
// module_kind(path) → string or nil
func makeModuleKindFn() *object.Builtin {
	return object.NewBuiltin("module_kind", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("module_kind", 1, len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return object.Errorf("module_kind: %v", err)
		}
		k, ok := vba.ModuleKindForFile(path)
		if !ok {
			return object.Nil
		}
		return object.NewString(k.String())
	})
}

func parseModuleKind(s string) (vba.ModuleKind, bool) {
	for _, k := range []vba.ModuleKind{vba.Procedural, vba.Class, vba.Document, vba.UserForm} {
		if naming.EqualFold(k.String(), s) {
			return k, true
		}
	}
	return 0, false
}

// makeParseFn creates "parse". It extracts the declarations of one module
// without touching the store; syntax errors come back as a map with an
// error key.
//
// parse(name, src[, kind]) → list of declaration maps, or {error, line, col}
func makeParseFn() *object.Builtin {
	return object.NewBuiltin("parse", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.Errorf("parse: expected 2 or 3 arguments, got %d", len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("parse: name: %v", err)
		}
		src, err := toString(args[1])
		if err != nil {
			return object.Errorf("parse: src: %v", err)
		}
		kind := vba.Procedural
		if len(args) == 3 {
			ks, err := toString(args[2])
			if err != nil {
				return object.Errorf("parse: kind: %v", err)
			}
			var ok bool
			if kind, ok = parseModuleKind(ks); !ok {
				return object.Errorf("parse: unknown module kind %q", ks)
			}
		}

		project, err := scratchProjectDecl()
		if err != nil {
			return object.Errorf("parse: %v", err)
		}
		set, err := extract.NewIngester(nil).Ingest(ctx, project, extract.Request{
			Module: naming.QualifiedModuleName{Project: scratchProject, Module: name},
			Kind:   kind,
			Source: []byte(src),
		})
		var syn *vba.SyntaxError
		if errors.As(err, &syn) {
			return object.NewMap(map[string]object.Object{
				"error": object.NewString(syn.Msg),
				"line":  object.NewInt(int64(syn.Line)),
				"col":   object.NewInt(int64(syn.Col)),
			})
		}
		if err != nil {
			return object.Errorf("parse: %v", err)
		}
		items := make([]object.Object, 0, set.Len())
		for _, d := range set.All() {
			items = append(items, symbolToMap(d))
		}
		return object.NewList(items)
	})
}

func scratchProjectDecl() (*symbols.Declaration, error) {
	unit := naming.ProjectUnit(scratchProject)
	b := symbols.NewBuilder(unit, symbols.FromSource)
	if _, err := b.Add(symbols.Fields{
		Name:          unit.QualifyMember(scratchProject),
		Kind:          symbols.Project,
		Accessibility: symbols.Public,
	}, symbols.ProjectInfo{}); err != nil {
		return nil, err
	}
	set, err := b.Freeze()
	if err != nil {
		return nil, err
	}
	return set.Root(), nil
}

// symbolToMap converts an in-memory declaration to the same shape as a
// stored declaration row, minus the ids.
func symbolToMap(d *symbols.Declaration) object.Object {
	sel := d.Selection()
	m := map[string]object.Object{
		"name":           object.NewString(d.Name()),
		"qualified_name": object.NewString(d.QualifiedName().String()),
		"project":        object.NewString(d.Module().Project),
		"module":         object.NewString(d.Module().Module),
		"kind":           object.NewString(d.Kind().String()),
		"accessibility":  object.NewString(d.Accessibility().String()),
		"as_type":        object.NewString(d.AsTypeName()),
		"type_hint":      object.NewString(d.TypeHint()),
		"is_array":       object.NewBool(d.IsArray()),
		"is_builtin":     object.NewBool(d.IsBuiltIn()),
		"start_line":     object.NewInt(int64(sel.StartLine)),
		"start_col":      object.NewInt(int64(sel.StartCol)),
		"end_line":       object.NewInt(int64(sel.EndLine)),
		"end_col":        object.NewInt(int64(sel.EndCol)),
	}
	if c, ok := d.Constant(); ok {
		m["value"] = object.NewString(c.Value)
	}
	return object.NewMap(m)
}

// logObject provides log.info/warn/error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}
