package store

import (
	"database/sql"
	"fmt"
)

// CommitBatch inserts all buffered data from a BatchedStore into SQLite
// within a single transaction.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()
	if err := commitBatchTx(tx, batch); err != nil {
		return err
	}
	return tx.Commit()
}

// commitBatchTx writes the batch inside tx. Fake (negative) IDs are
// remapped to real (positive) IDs, and every FK within the batch is
// rewritten using the fakeToReal mapping.
//
// Insert order respects FK dependencies:
//  1. Declarations (module_id is already real; parent_id may be fake)
//  2. Parameters, Annotations, Attributes (declaration_id)
//  3. Bindings (scope_id, target_id)
//  4. Diagnostics (module_id only)
func commitBatchTx(tx *sql.Tx, batch *BatchedStore) error {
	fakeToReal := make(map[int64]int64, len(batch.Declarations))
	remap := func(id int64, what string) (int64, error) {
		if id >= 0 {
			return id, nil
		}
		realID, ok := fakeToReal[id]
		if !ok {
			return 0, fmt.Errorf("commit batch: %s references id %d not in fakeToReal map (have %d declarations)", what, id, len(batch.Declarations))
		}
		return realID, nil
	}

	// 1. Declarations
	for _, d := range batch.Declarations {
		if d.ParentID != nil {
			realID, err := remap(*d.ParentID, "declaration "+d.QualifiedName)
			if err != nil {
				return err
			}
			d.ParentID = &realID
		}
		realID, err := insertDeclaration(tx, &d)
		if err != nil {
			return fmt.Errorf("commit batch: declaration %q: %w", d.QualifiedName, err)
		}
		fakeToReal[d.ID] = realID
	}

	// 2. Declaration details
	for _, p := range batch.Parameters {
		id, err := remap(p.DeclarationID, "parameter")
		if err != nil {
			return err
		}
		p.DeclarationID = id
		if _, err := insertParameter(tx, &p); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}
	for _, a := range batch.Annotations {
		id, err := remap(a.DeclarationID, "annotation "+a.Name)
		if err != nil {
			return err
		}
		a.DeclarationID = id
		if _, err := insertAnnotation(tx, &a); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}
	for _, a := range batch.Attributes {
		id, err := remap(a.DeclarationID, "attribute "+a.Name)
		if err != nil {
			return err
		}
		a.DeclarationID = id
		if _, err := insertAttribute(tx, &a); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	// 3. Bindings
	for _, b := range batch.Bindings {
		target, err := remap(b.TargetID, "binding "+b.Name)
		if err != nil {
			return err
		}
		b.TargetID = target
		if b.ScopeID != nil {
			scope, err := remap(*b.ScopeID, "binding scope "+b.Name)
			if err != nil {
				return err
			}
			b.ScopeID = &scope
		}
		if _, err := insertBinding(tx, &b); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}

	// 4. Diagnostics
	for _, d := range batch.Diagnostics {
		if _, err := insertDiagnostic(tx, &d); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
	}
	return nil
}
