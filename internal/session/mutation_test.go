package session

import (
	"context"
	"testing"
	"time"

	"github.com/agentic-research/partbom/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLink_OptimisticThenAuthoritative(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	release := fx.api.gate("details:PART-0001")
	done := make(chan error, 1)
	go func() { done <- fx.session.CreateLink(ctx, "PART-0005", 3) }()

	// The refresh is held, so what is visible now is the local patch.
	fx.waitCalled(t, "details:PART-0001", 2)
	snap := fx.session.Snapshot()
	require.NotNil(t, snap.Details.Data)
	assert.Equal(t, []string{"PART-0002", "PART-0004", "PART-0005"}, childIDs(snap.Details.Data))
	assert.Equal(t, 3, snap.Details.Data.ChildParts[2].Quantity)
	assert.Equal(t, 3, snap.Details.Data.ChildCount)
	assert.True(t, snap.Tree.MutationLoading)

	release()
	require.NoError(t, <-done)

	snap = fx.session.Snapshot()
	assert.False(t, snap.Tree.MutationLoading)
	assert.Empty(t, snap.Tree.MutationErr)
	assert.Equal(t, 3, snap.Details.Data.ChildCount)
	assert.Contains(t, snap.Tree.Tree.Nodes, "PART-0005")
	assert.Equal(t, []string{"PART-0002", "PART-0004", "PART-0005"}, snap.Tree.Tree.Nodes["PART-0001"].ChildIDs)
}

func TestCreateLink_ExistingChildReplacesQuantity(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	release := fx.api.gate("details:PART-0001")
	done := make(chan error, 1)
	go func() { done <- fx.session.CreateLink(ctx, "PART-0002", 7) }()
	fx.waitCalled(t, "details:PART-0001", 2)

	d := fx.session.Snapshot().Details.Data
	assert.Equal(t, []string{"PART-0002", "PART-0004"}, childIDs(d))
	assert.Equal(t, 7, d.ChildParts[0].Quantity)

	release()
	require.NoError(t, <-done)
}

func TestCreateLink_UnknownPartSkipsPatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	release := fx.api.gate("details:PART-0001")
	done := make(chan error, 1)
	go func() { done <- fx.session.CreateLink(ctx, "PART-9999", 1) }()
	fx.waitCalled(t, "details:PART-0001", 2)

	assert.Equal(t, []string{"PART-0002", "PART-0004"}, childIDs(fx.session.Snapshot().Details.Data))
	release()
	require.NoError(t, <-done)
}

func TestCreateLink_ValidationTouchesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	err := fx.session.CreateLink(ctx, "", 0)
	var fe validate.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Select a child part.", fe["childId"])
	assert.Equal(t, "Quantity must be at least 1.", fe["quantity"])

	assert.Empty(t, fx.session.Snapshot().Tree.MutationErr)
	assert.Equal(t, 0, fx.api.count("create-link:PART-0001/"))
}

func TestDeleteLink_FailureLeavesDetailsUntouched(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")
	before := fx.session.Snapshot().Details.Data

	fx.api.fail("delete-link:PART-0001/PART-0002", errBoom)
	err := fx.session.DeleteLink(ctx, "PART-0002")
	require.Error(t, err)

	snap := fx.session.Snapshot()
	assert.Equal(t, "Request failed with status 500.", snap.Tree.MutationErr)
	assert.False(t, snap.Tree.MutationLoading)
	assert.Same(t, before, snap.Details.Data, "no optimistic removal")
	assert.Equal(t, []string{"PART-0002", "PART-0004"}, childIDs(snap.Details.Data))
	assert.Empty(t, snap.Details.Err, "mutation errors stay off the view channels")
	assert.Equal(t, 1, fx.api.count("details:PART-0001"), "no refresh after a failed write")
}

func TestDeleteLink_ReconcilesExpansion(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	_, err := fx.session.Toggle(ctx, "PART-0002")
	require.NoError(t, err)
	_, err = fx.session.Toggle(ctx, "PART-0003")
	require.NoError(t, err)
	require.Equal(t, []string{"PART-0001", "PART-0002", "PART-0003"}, fx.session.Snapshot().Tree.Tree.Expanded.IDs())

	require.NoError(t, fx.session.DeleteLink(ctx, "PART-0002"))

	snap := fx.session.Snapshot()
	tree := snap.Tree.Tree
	assert.Equal(t, []string{"PART-0001"}, tree.Expanded.IDs())
	assert.NotContains(t, tree.Nodes, "PART-0002")
	assert.NotContains(t, tree.Nodes, "PART-0003")
	assert.Equal(t, []string{"PART-0004"}, childIDs(snap.Details.Data))
	assert.Equal(t, 1, snap.Details.Data.ChildCount)
}

func TestUpdateLink_KeepsLoadedSubtreeAndSurvivingExpansion(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")
	_, err := fx.session.Toggle(ctx, "PART-0002")
	require.NoError(t, err)
	_, err = fx.session.Toggle(ctx, "PART-0003")
	require.NoError(t, err)

	require.NoError(t, fx.session.UpdateLink(ctx, "PART-0002", 5))

	snap := fx.session.Snapshot()
	tree := snap.Tree.Tree
	// PART-0003 is below the refetch depth: still cached, no longer expanded.
	assert.Equal(t, []string{"PART-0001", "PART-0002"}, tree.Expanded.IDs())
	assert.Contains(t, tree.Nodes, "PART-0003")
	assert.True(t, tree.Nodes["PART-0002"].ChildrenLoaded)
	assert.Equal(t, 5, *tree.Nodes["PART-0002"].QuantityFromParent)
	assert.Equal(t, 5, snap.Details.Data.ChildParts[0].Quantity)
}

func TestUpdateLink_InvalidQuantity(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	var fe validate.FieldErrors
	require.ErrorAs(t, fx.session.UpdateLink(ctx, "PART-0002", 0), &fe)
	assert.Equal(t, 0, fx.api.count("update-link:PART-0001/PART-0002"))
}

func TestLinkEdits_BlankChildRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	tests := []struct {
		name string
		run  func() error
		key  string
	}{
		{"update", func() error { return fx.session.UpdateLink(ctx, " ", 2) }, "update-link:PART-0001/ "},
		{"delete", func() error { return fx.session.DeleteLink(ctx, "") }, "delete-link:PART-0001/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fe validate.FieldErrors
			require.ErrorAs(t, tt.run(), &fe)
			assert.Equal(t, "Select a child part.", fe["childId"])
			assert.Equal(t, 0, fx.api.count(tt.key))
			assert.Empty(t, fx.session.Snapshot().Tree.MutationErr)
		})
	}
	assert.Equal(t, 1, fx.api.count("details:PART-0001"), "no refresh")
}

func TestMutation_RequiresSelection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		want string
	}{
		{"create", func() error { return fx.session.CreateLink(ctx, "PART-0002", 1) }, "Select a parent part before creating a BOM link."},
		{"update", func() error { return fx.session.UpdateLink(ctx, "PART-0002", 1) }, "Select a parent part before updating a BOM link."},
		{"delete", func() error { return fx.session.DeleteLink(ctx, "PART-0002") }, "Select a parent part before deleting a BOM link."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			assert.ErrorIs(t, err, ErrNoSelection)
			assert.EqualError(t, err, tt.want)
			assert.Equal(t, tt.want, fx.session.Snapshot().Tree.MutationErr)
		})
	}

	fx.session.ClearMutationError()
	assert.Empty(t, fx.session.Snapshot().Tree.MutationErr)
}

func TestCreatePart_SelectsNewPart(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")
	fx.session.SetQuery("wheel")
	require.Eventually(t, func() bool {
		snap := fx.session.Snapshot()
		return len(snap.Search.Parts) == 1 && snap.SelectedID == "PART-0002" && !snap.Details.Loading
	}, 2*time.Second, 5*time.Millisecond)

	p, err := fx.session.CreatePart(ctx, validate.PartForm{Name: " Bell ", Description: "brass"})
	require.NoError(t, err)
	assert.Equal(t, "Bell", p.Name)

	snap := fx.session.Snapshot()
	assert.Equal(t, p.ID, snap.SelectedID)
	assert.Empty(t, snap.Search.Query)
	assert.Empty(t, snap.Search.CreateErr)
	require.NotNil(t, snap.Details.Data)
	assert.Equal(t, p.ID, snap.Details.Data.ID)
	assert.Equal(t, 0, snap.Details.Data.ChildCount)

	label := fx.catalog.Label(ctx, p.ID)
	assert.Equal(t, p.PartNumber+" - Bell", label)

	// The cleared query re-lists everything after the debounce, and the new
	// part stays selected.
	require.Eventually(t, func() bool {
		return len(fx.session.Snapshot().Search.Parts) == 6
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, p.ID, fx.session.SelectedID())
}

func TestCreatePart_Failure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")
	fx.api.fail("create-part:Bell", &testHTTPError{"Part number already exists."})

	_, err := fx.session.CreatePart(ctx, validate.PartForm{Name: "Bell"})
	require.Error(t, err)

	snap := fx.session.Snapshot()
	assert.Equal(t, "Part number already exists.", snap.Search.CreateErr)
	assert.False(t, snap.Search.CreateLoading)
	assert.Equal(t, "PART-0001", snap.SelectedID)

	fx.session.ClearCreatePartError()
	assert.Empty(t, fx.session.Snapshot().Search.CreateErr)
}

func TestCreatePart_ValidationError(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.session.CreatePart(context.Background(), validate.PartForm{Name: "  "})
	var fe validate.FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Part name is required.", fe["name"])
	assert.Empty(t, fx.session.Snapshot().Search.CreateErr)
}

func TestCreatePartForLink_KeepsSelection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Select(ctx, "PART-0001")

	p, err := fx.session.CreatePartForLink(ctx, validate.PartForm{Name: "Bell", PartNumber: "PN-0000"})
	require.NoError(t, err)
	assert.Equal(t, "PART-0001", fx.session.SelectedID())

	got, err := fx.session.LinkCandidates(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, p.ID, got[0].ID, "candidates are ordered by part number")

	release := fx.api.gate("details:PART-0001")
	done := make(chan error, 1)
	go func() { done <- fx.session.CreateLink(ctx, p.ID, 1) }()
	fx.waitCalled(t, "details:PART-0001", 2)
	assert.Equal(t, []string{p.ID, "PART-0002", "PART-0004"}, childIDs(fx.session.Snapshot().Details.Data))
	release()
	require.NoError(t, <-done)
}

type testHTTPError struct{ msg string }

func (e *testHTTPError) Error() string { return e.msg }
