package store

// DataStore is the write side used while mirroring a snapshot. Both Store
// (direct SQLite) and BatchedStore (in-memory buffering for parallel
// conversion) implement this interface.
type DataStore interface {
	// Inserts return the assigned ID.
	InsertDeclaration(d *Declaration) (int64, error)
	InsertParameter(p *Parameter) (int64, error)
	InsertAnnotation(a *Annotation) (int64, error)
	InsertAttribute(a *Attribute) (int64, error)
	InsertBinding(b *Binding) (int64, error)
	InsertDiagnostic(d *Diagnostic) (int64, error)

	// DeclarationsByModule reads back a module's declarations.
	DeclarationsByModule(moduleID int64) ([]*Declaration, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
