package store

import "sync"

// BatchedStore buffers mirror inserts in memory using fake (negative) IDs.
// It implements DataStore so snapshot conversion can run on several
// goroutines without touching SQLite until CommitBatch.
//
// Thread safety: the mutex protects fake ID allocation and slice appends.
// DeclarationsByModule passes through to the underlying Store for rows
// already committed.
type BatchedStore struct {
	store *Store // for read passthrough
	mu    sync.Mutex

	// Buffered data.
	Declarations []Declaration
	Parameters   []Parameter
	Annotations  []Annotation
	Attributes   []Attribute
	Bindings     []Binding
	Diagnostics  []Diagnostic

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore backed by the given Store for read queries.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{
		store:      s,
		nextFakeID: -1,
	}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertDeclaration(d *Declaration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	d.ID = fakeID
	b.Declarations = append(b.Declarations, *d)
	return fakeID, nil
}

func (b *BatchedStore) InsertParameter(p *Parameter) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	p.ID = fakeID
	b.Parameters = append(b.Parameters, *p)
	return fakeID, nil
}

func (b *BatchedStore) InsertAnnotation(a *Annotation) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	a.ID = fakeID
	b.Annotations = append(b.Annotations, *a)
	return fakeID, nil
}

func (b *BatchedStore) InsertAttribute(a *Attribute) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	a.ID = fakeID
	b.Attributes = append(b.Attributes, *a)
	return fakeID, nil
}

func (b *BatchedStore) InsertBinding(bd *Binding) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	bd.ID = fakeID
	b.Bindings = append(b.Bindings, *bd)
	return fakeID, nil
}

func (b *BatchedStore) InsertDiagnostic(d *Diagnostic) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fakeID := b.allocFakeID()
	d.ID = fakeID
	b.Diagnostics = append(b.Diagnostics, *d)
	return fakeID, nil
}

// DeclarationsByModule returns a module's declarations, merging any
// buffered (not yet committed) rows with those already in the database.
func (b *BatchedStore) DeclarationsByModule(moduleID int64) ([]*Declaration, error) {
	dbDecls, err := b.store.DeclarationsByModule(moduleID)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.Declarations {
		if b.Declarations[i].ModuleID == moduleID {
			dbDecls = append(dbDecls, &b.Declarations[i])
		}
	}
	return dbDecls, nil
}
