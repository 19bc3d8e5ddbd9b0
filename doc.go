// Package mallard maintains the declaration model of VBA projects and
// keeps it resolved as modules change.
//
// # Pipeline
//
// An [Engine] owns three pieces:
//
//  1. A coordinator that ingests module source and referenced type
//     libraries into declaration sets, resolves every use to its
//     declaration and publishes an immutable snapshot. Cycles move
//     through Pending, LoadingReferences, Parsing, ResolvingDeclarations
//     and ResolvingReferences, and settle in Ready, ParserError or
//     ResolverError.
//
//  2. A SQLite mirror of the last published snapshot, rewritten after
//     every cycle so tools outside the host process can query it.
//
//  3. A Risor runtime for filter expressions and scripts over the
//     mirror.
//
// # Usage
//
// Open a workspace, index it and query:
//
//	cfg, err := config.Discover(".")
//	if err != nil { ... }
//	e, err := mallard.Open(ctx, cfg)
//	if err != nil { ... }
//	defer e.Close()
//
//	stats, err := e.IndexWorkspace(ctx)
//
//	q := e.Query()
//	locs, err := q.DefinitionAt("VBAProject", "Module1", 10, 5)
//
// Hosts that keep source in memory call [Engine.RequestReparse] with the
// changed modules instead of indexing files.
//
// # Query API
//
// The [QueryBuilder] returned by [Engine.Query] reads the mirror:
//
//   - [QueryBuilder.DeclarationAt] returns the narrowest declaration
//     whose span contains a position.
//   - [QueryBuilder.DefinitionAt] follows the use at a position to its
//     declaration.
//   - [QueryBuilder.ReferencesTo] lists every use bound to a declaration.
//   - [QueryBuilder.Declarations] and [QueryBuilder.SearchDeclarations]
//     filter, sort and page declarations.
//   - [QueryBuilder.DeclarationDetail] bundles a declaration with its
//     parameter details, annotations, attributes, children and scope
//     chain.
//   - [QueryBuilder.ModuleGraph], [QueryBuilder.Dependents] and
//     [QueryBuilder.UnusedDeclarations] report how modules bind into
//     each other.
//
// [Engine.Declarations] queries the live snapshot directly and never
// blocks on a running cycle.
package mallard
