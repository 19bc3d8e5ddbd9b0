package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/risor-io/risor/object"

	"github.com/jward/mallard/internal/store"
)

// Store query host functions. Rows are returned as Risor maps with
// snake_case keys matching the column names.

// moduleNames caches module rows so declaration maps can carry their
// project and module names.
type moduleNames struct {
	s  *store.Store
	mu sync.Mutex
	m  map[int64]*store.Module
}

func newModuleNames(s *store.Store) *moduleNames {
	return &moduleNames{s: s, m: make(map[int64]*store.Module)}
}

func (n *moduleNames) get(id int64) *store.Module {
	if n == nil || n.s == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if m, ok := n.m[id]; ok {
		return m
	}
	m, err := n.s.ModuleByID(id)
	if err != nil {
		m = nil
	}
	n.m[id] = m
	return m
}

func makeModulesFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("modules", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("modules", 0, len(args))
		}
		mods, err := s.Modules()
		if err != nil {
			return object.Errorf("modules: %v", err)
		}
		results := make([]object.Object, 0, len(mods))
		for _, m := range mods {
			results = append(results, moduleToMap(m))
		}
		return object.NewList(results)
	})
}

// module(project, name) → map or nil. An empty name selects the project unit.
func makeModuleFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("module", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("module", 2, len(args))
		}
		project, err := toString(args[0])
		if err != nil {
			return object.Errorf("module: %v", err)
		}
		name, err := toString(args[1])
		if err != nil {
			return object.Errorf("module: %v", err)
		}
		m, err := s.ModuleByName(project, name)
		if err != nil {
			return object.Errorf("module: %v", err)
		}
		if m == nil {
			return object.Nil
		}
		return moduleToMap(m)
	})
}

func makeDeclarationFn(s *store.Store, names *moduleNames) *object.Builtin {
	return object.NewBuiltin("declaration", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("declaration", 1, len(args))
		}
		id, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("declaration: %v", err)
		}
		d, err := s.DeclarationByID(id)
		if err != nil {
			return object.Errorf("declaration: %v", err)
		}
		if d == nil {
			return object.Nil
		}
		return declarationToMap(d, names)
	})
}

func makeDeclarationsByNameFn(s *store.Store, names *moduleNames) *object.Builtin {
	return stringQueryFn("declarations_by_name", names, s.DeclarationsByName)
}

func makeDeclarationsByKindFn(s *store.Store, names *moduleNames) *object.Builtin {
	return stringQueryFn("declarations_by_kind", names, s.DeclarationsByKind)
}

func makeDeclarationsByModuleFn(s *store.Store, names *moduleNames) *object.Builtin {
	return idQueryFn("declarations_by_module", names, s.DeclarationsByModule)
}

func makeChildrenFn(s *store.Store, names *moduleNames) *object.Builtin {
	return idQueryFn("children", names, s.DeclarationChildren)
}

func stringQueryFn(name string, names *moduleNames, query func(string) ([]*store.Declaration, error)) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError(name, 1, len(args))
		}
		v, err := toString(args[0])
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		decls, err := query(v)
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		return declarationsToList(decls, names)
	})
}

func idQueryFn(name string, names *moduleNames, query func(int64) ([]*store.Declaration, error)) *object.Builtin {
	return object.NewBuiltin(name, func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError(name, 1, len(args))
		}
		id, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		decls, err := query(id)
		if err != nil {
			return object.Errorf("%s: %v", name, err)
		}
		return declarationsToList(decls, names)
	})
}

// declaration_at(module_id, line, col) → map or nil
func makeDeclarationAtFn(s *store.Store, names *moduleNames) *object.Builtin {
	return object.NewBuiltin("declaration_at", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 3 {
			return object.NewArgsError("declaration_at", 3, len(args))
		}
		var vals [3]int64
		for i, a := range args {
			v, err := toInt64(a)
			if err != nil {
				return object.Errorf("declaration_at: %v", err)
			}
			vals[i] = v
		}
		d, err := s.DeclarationAt(vals[0], int(vals[1]), int(vals[2]))
		if err != nil {
			return object.Errorf("declaration_at: %v", err)
		}
		if d == nil {
			return object.Nil
		}
		return declarationToMap(d, names)
	})
}

func makeParameterOfFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("parameter_of", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("parameter_of", 1, len(args))
		}
		id, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("parameter_of: %v", err)
		}
		p, err := s.ParameterOf(id)
		if err != nil {
			return object.Errorf("parameter_of: %v", err)
		}
		if p == nil {
			return object.Nil
		}
		return object.NewMap(map[string]object.Object{
			"declaration_id": object.NewInt(p.DeclarationID),
			"ordinal":        object.NewInt(int64(p.Ordinal)),
			"optional":       object.NewBool(p.Optional),
			"by_ref":         object.NewBool(p.ByRef),
			"param_array":    object.NewBool(p.ParamArray),
			"default":        object.NewString(p.Default),
		})
	})
}

func makeAnnotationsFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("annotations", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("annotations", 1, len(args))
		}
		id, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("annotations: %v", err)
		}
		anns, err := s.Annotations(id)
		if err != nil {
			return object.Errorf("annotations: %v", err)
		}
		results := make([]object.Object, 0, len(anns))
		for _, a := range anns {
			results = append(results, object.NewMap(map[string]object.Object{
				"name": object.NewString(a.Name),
				"args": stringList(a.Args),
				"line": object.NewInt(int64(a.Line)),
				"col":  object.NewInt(int64(a.Col)),
			}))
		}
		return object.NewList(results)
	})
}

func makeAttributesFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("attributes", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("attributes", 1, len(args))
		}
		id, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("attributes: %v", err)
		}
		attrs, err := s.Attributes(id)
		if err != nil {
			return object.Errorf("attributes: %v", err)
		}
		results := make([]object.Object, 0, len(attrs))
		for _, a := range attrs {
			results = append(results, object.NewMap(map[string]object.Object{
				"name":   object.NewString(a.Name),
				"values": stringList(a.Values),
			}))
		}
		return object.NewList(results)
	})
}

func makeBindingsToFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("bindings_to", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("bindings_to", 1, len(args))
		}
		id, err := toInt64(args[0])
		if err != nil {
			return object.Errorf("bindings_to: %v", err)
		}
		refs, err := s.BindingsTo(id)
		if err != nil {
			return object.Errorf("bindings_to: %v", err)
		}
		results := make([]object.Object, 0, len(refs))
		for _, b := range refs {
			m := map[string]object.Object{
				"module_id": object.NewInt(b.ModuleID),
				"name":      object.NewString(b.Name),
				"qualifier": object.NewString(b.Qualifier),
				"use_kind":  object.NewString(b.UseKind),
				"line":      object.NewInt(int64(b.Line)),
				"col":       object.NewInt(int64(b.Col)),
				"end_line":  object.NewInt(int64(b.EndLine)),
				"end_col":   object.NewInt(int64(b.EndCol)),
				"target_id": object.NewInt(b.TargetID),
			}
			if b.ScopeID != nil {
				m["scope_id"] = object.NewInt(*b.ScopeID)
			}
			results = append(results, object.NewMap(m))
		}
		return object.NewList(results)
	})
}

func makeDiagnosticsFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("diagnostics", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("diagnostics", 0, len(args))
		}
		diags, err := s.Diagnostics()
		if err != nil {
			return object.Errorf("diagnostics: %v", err)
		}
		results := make([]object.Object, 0, len(diags))
		for _, d := range diags {
			results = append(results, object.NewMap(map[string]object.Object{
				"module_id":  object.NewInt(d.ModuleID),
				"name":       object.NewString(d.Name),
				"reason":     object.NewString(d.Reason),
				"message":    object.NewString(d.Message),
				"candidates": object.NewInt(int64(d.Candidates)),
				"line":       object.NewInt(int64(d.Line)),
				"col":        object.NewInt(int64(d.Col)),
			}))
		}
		return object.NewList(results)
	})
}

func makeUnavailableFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("unavailable", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 0 {
			return object.NewArgsError("unavailable", 0, len(args))
		}
		libs, err := s.Unavailable()
		if err != nil {
			return object.Errorf("unavailable: %v", err)
		}
		m := make(map[string]object.Object, len(libs))
		for name, msg := range libs {
			m[name] = object.NewString(msg)
		}
		return object.NewMap(m)
	})
}

// db_query(sql, args...) runs a read-only query and returns rows as maps.
func makeDBQueryFn(s *store.Store) *object.Builtin {
	return object.NewBuiltin("db_query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 {
			return object.Errorf("db_query: expected at least 1 argument (sql), got %d", len(args))
		}
		sqlStr, err := toString(args[0])
		if err != nil {
			return object.Errorf("db_query: %v", err)
		}

		// Only allow SELECT statements.
		trimmed := strings.TrimSpace(strings.ToUpper(sqlStr))
		if !strings.HasPrefix(trimmed, "SELECT") {
			return object.Errorf("db_query: only SELECT queries are allowed")
		}

		var queryArgs []any
		for _, arg := range args[1:] {
			switch v := arg.(type) {
			case *object.Int:
				queryArgs = append(queryArgs, v.Value())
			case *object.Float:
				queryArgs = append(queryArgs, v.Value())
			case *object.String:
				queryArgs = append(queryArgs, v.Value())
			case *object.Bool:
				queryArgs = append(queryArgs, v.Value())
			case *object.NilType:
				queryArgs = append(queryArgs, nil)
			default:
				queryArgs = append(queryArgs, fmt.Sprintf("%v", arg))
			}
		}

		rows, queryErr := s.DB().QueryContext(ctx, sqlStr, queryArgs...)
		if queryErr != nil {
			return object.Errorf("db_query: %v", queryErr)
		}
		defer rows.Close()

		cols, colErr := rows.Columns()
		if colErr != nil {
			return object.Errorf("db_query: columns: %v", colErr)
		}

		var results []object.Object
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return object.Errorf("db_query: scan: %v", err)
			}
			row := make(map[string]object.Object, len(cols))
			for i, col := range cols {
				row[col] = sqlValueToObject(values[i])
			}
			results = append(results, object.NewMap(row))
		}
		if err := rows.Err(); err != nil {
			return object.Errorf("db_query: rows: %v", err)
		}
		if results == nil {
			results = []object.Object{}
		}
		return object.NewList(results)
	})
}

// --- Conversion helpers ---

// sqlValueToObject converts a database value to a Risor object.
func sqlValueToObject(v any) object.Object {
	if v == nil {
		return object.Nil
	}
	switch val := v.(type) {
	case int64:
		return object.NewInt(val)
	case float64:
		return object.NewFloat(val)
	case string:
		return object.NewString(val)
	case bool:
		return object.NewBool(val)
	case []byte:
		return object.NewString(string(val))
	default:
		return object.NewString(fmt.Sprintf("%v", val))
	}
}

func moduleToMap(m *store.Module) object.Object {
	return object.NewMap(map[string]object.Object{
		"id":         object.NewInt(m.ID),
		"project":    object.NewString(m.Project),
		"name":       object.NewString(m.Name),
		"kind":       object.NewString(m.Kind),
		"status":     object.NewString(m.Status),
		"provenance": object.NewString(m.Provenance),
		"digest":     object.NewString(m.Digest),
		"error":      object.NewString(m.Error),
	})
}

// declarationToMap converts a stored declaration to a Risor map. names may
// be nil, in which case project and module are empty.
func declarationToMap(d *store.Declaration, names *moduleNames) object.Object {
	m := map[string]object.Object{
		"id":             object.NewInt(d.ID),
		"module_id":      object.NewInt(d.ModuleID),
		"parent_id":      object.Nil,
		"seq":            object.NewInt(int64(d.Seq)),
		"name":           object.NewString(d.Name),
		"qualified_name": object.NewString(d.QualifiedName),
		"project":        object.NewString(""),
		"module":         object.NewString(""),
		"kind":           object.NewString(d.Kind),
		"accessibility":  object.NewString(d.Accessibility),
		"as_type":        object.NewString(d.AsType),
		"type_hint":      object.NewString(d.TypeHint),
		"is_array":       object.NewBool(d.IsArray),
		"is_builtin":     object.NewBool(d.IsBuiltIn),
		"value":          object.NewString(d.Value),
		"start_line":     object.NewInt(int64(d.StartLine)),
		"start_col":      object.NewInt(int64(d.StartCol)),
		"end_line":       object.NewInt(int64(d.EndLine)),
		"end_col":        object.NewInt(int64(d.EndCol)),
	}
	if d.ParentID != nil {
		m["parent_id"] = object.NewInt(*d.ParentID)
	}
	if mod := names.get(d.ModuleID); mod != nil {
		m["project"] = object.NewString(mod.Project)
		m["module"] = object.NewString(mod.Name)
	}
	return object.NewMap(m)
}

func declarationsToList(decls []*store.Declaration, names *moduleNames) object.Object {
	results := make([]object.Object, 0, len(decls))
	for _, d := range decls {
		results = append(results, declarationToMap(d, names))
	}
	return object.NewList(results)
}

func stringList(items []string) object.Object {
	out := make([]object.Object, len(items))
	for i, s := range items {
		out[i] = object.NewString(s)
	}
	return object.NewList(out)
}

func toInt64(obj object.Object) (int64, error) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), nil
	}
	if f, ok := obj.(*object.Float); ok {
		return int64(f.Value()), nil
	}
	return 0, fmt.Errorf("expected int, got %s", obj.Type())
}

func toString(obj object.Object) (string, error) {
	if s, ok := obj.(*object.String); ok {
		return s.Value(), nil
	}
	return "", fmt.Errorf("expected string, got %s", obj.Type())
}
