package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchedStore_DeclarationsByModule_ReturnsBufferedDeclarations(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	m := insertTestModule(t, s, "P", "M")

	batch := NewBatchedStore(s)
	id1, err := batch.InsertDeclaration(&Declaration{ModuleID: m.ID, Name: "Foo", Kind: "function"})
	require.NoError(t, err)
	assert.Negative(t, id1, "batched IDs should be negative")

	id2, err := batch.InsertDeclaration(&Declaration{ModuleID: m.ID, Seq: 1, Name: "Bar", Kind: "procedure"})
	require.NoError(t, err)
	assert.Negative(t, id2)
	assert.NotEqual(t, id1, id2)

	decls, err := batch.DeclarationsByModule(m.ID)
	require.NoError(t, err)
	require.Len(t, decls, 2)
	for _, d := range decls {
		assert.Negative(t, d.ID, "buffered declarations should have negative IDs")
	}
}

func TestBatchedStore_DeclarationsByModule_MergesWithDatabase(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	m := insertTestModule(t, s, "P", "M")
	other := insertTestModule(t, s, "P", "Other")
	insertTestDeclaration(t, s, m.ID, nil, 0, "Existing", "function")

	batch := NewBatchedStore(s)
	_, err := batch.InsertDeclaration(&Declaration{ModuleID: m.ID, Seq: 1, Name: "New", Kind: "procedure"})
	require.NoError(t, err)
	_, err = batch.InsertDeclaration(&Declaration{ModuleID: other.ID, Name: "Elsewhere", Kind: "procedure"})
	require.NoError(t, err)

	decls, err := batch.DeclarationsByModule(m.ID)
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "Existing", decls[0].Name)
	assert.Equal(t, "New", decls[1].Name)
}

func TestCommitBatch_RemapsFakeIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	helpers := insertTestModule(t, s, "P", "Helpers")
	caller := insertTestModule(t, s, "P", "Caller")

	batch := NewBatchedStore(s)
	rootID, err := batch.InsertDeclaration(&Declaration{ModuleID: helpers.ID, Name: "Helpers", QualifiedName: "P.Helpers", Kind: "procedural-module"})
	require.NoError(t, err)
	fnID, err := batch.InsertDeclaration(&Declaration{ModuleID: helpers.ID, ParentID: ptr(rootID), Seq: 1, Name: "Helper", QualifiedName: "P.Helpers.Helper", Kind: "function"})
	require.NoError(t, err)
	paramID, err := batch.InsertDeclaration(&Declaration{ModuleID: helpers.ID, ParentID: ptr(fnID), Seq: 2, Name: "x", QualifiedName: "P.Helpers.x", Kind: "parameter"})
	require.NoError(t, err)
	_, err = batch.InsertParameter(&Parameter{DeclarationID: paramID, ByRef: true})
	require.NoError(t, err)
	_, err = batch.InsertAnnotation(&Annotation{DeclarationID: fnID, Name: "Ignore", Args: []string{"UnusedParameter"}})
	require.NoError(t, err)
	_, err = batch.InsertAttribute(&Attribute{DeclarationID: fnID, Name: "VB_UserMemId", Values: []string{"0"}})
	require.NoError(t, err)

	// The caller's scope already lives in the database.
	run := insertTestDeclaration(t, s, caller.ID, nil, 0, "Run", "procedure")
	_, err = batch.InsertBinding(&Binding{ModuleID: caller.ID, ScopeID: &run.ID, Name: "Helper", TargetID: fnID})
	require.NoError(t, err)
	_, err = batch.InsertDiagnostic(&Diagnostic{ModuleID: caller.ID, Name: "Missing", Reason: "unbound", Message: "Missing is not declared"})
	require.NoError(t, err)

	require.NoError(t, s.CommitBatch(batch))

	decls, err := s.DeclarationsByModule(helpers.ID)
	require.NoError(t, err)
	require.Len(t, decls, 3)
	for _, d := range decls {
		assert.Positive(t, d.ID)
	}
	require.NotNil(t, decls[1].ParentID)
	assert.Equal(t, decls[0].ID, *decls[1].ParentID)
	require.NotNil(t, decls[2].ParentID)
	assert.Equal(t, decls[1].ID, *decls[2].ParentID)

	p, err := s.ParameterOf(decls[2].ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.ByRef)

	anns, err := s.Annotations(decls[1].ID)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	attrs, err := s.Attributes(decls[1].ID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)

	refs, err := s.BindingsTo(decls[1].ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, run.ID, *refs[0].ScopeID)

	diags, err := s.Diagnostics()
	require.NoError(t, err)
	assert.Len(t, diags, 1)
}

func TestCommitBatch_UnknownFakeID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	m := insertTestModule(t, s, "P", "M")

	batch := NewBatchedStore(s)
	_, err := batch.InsertDeclaration(&Declaration{ModuleID: m.ID, ParentID: ptr(int64(-99)), Name: "Orphan", Kind: "function"})
	require.NoError(t, err)

	err = s.CommitBatch(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in fakeToReal map")

	decls, err := s.DeclarationsByModule(m.ID)
	require.NoError(t, err)
	assert.Empty(t, decls, "failed commit must roll back")
}
