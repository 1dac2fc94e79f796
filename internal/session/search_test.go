package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_SelectsFirstResult(t *testing.T) {
	fx := newFixture(t)
	fx.session.Start(context.Background())

	snap := fx.session.Snapshot()
	assert.Len(t, snap.Search.Parts, 5)
	assert.False(t, snap.Search.Loading)
	assert.Equal(t, "PART-0001", snap.SelectedID)
	require.NotNil(t, snap.Details.Data)
}

func TestSetQuery_DebouncesBurst(t *testing.T) {
	fx := newFixture(t)
	fx.session.Start(context.Background())

	fx.session.SetQuery("s")
	fx.session.SetQuery("sp")
	fx.session.SetQuery("spo")

	require.Eventually(t, func() bool {
		return fx.api.count("search:spo") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fx.api.count("search:s"))
	assert.Equal(t, 0, fx.api.count("search:sp"))

	require.Eventually(t, func() bool {
		return fx.session.SelectedID() == "PART-0003"
	}, 2*time.Second, 5*time.Millisecond, "selection moves to the first result")
	assert.Equal(t, "spo", fx.session.Snapshot().Search.Query)
}

func TestSetQuery_FirstQueryRunsImmediately(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.SearchDebounce = time.Hour })

	fx.session.SetQuery("frame")
	require.Eventually(t, func() bool {
		return fx.session.SelectedID() == "PART-0004"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSearch_PreservesListedSelection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.session.Start(ctx)
	fx.session.Select(ctx, "PART-0004")

	fx.session.SetQuery("PN-000")
	require.Eventually(t, func() bool {
		return fx.api.count("search:PN-000") == 1 && !fx.session.Snapshot().Search.Loading
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "PART-0004", fx.session.SelectedID())
}

func TestSearch_NoResultsGoesIdle(t *testing.T) {
	fx := newFixture(t)
	fx.session.Start(context.Background())

	fx.session.SetQuery("nothing-matches")
	require.Eventually(t, func() bool {
		return fx.session.SelectedID() == ""
	}, 2*time.Second, 5*time.Millisecond)

	snap := fx.session.Snapshot()
	assert.Empty(t, snap.Search.Parts)
	assert.Nil(t, snap.Details.Data)
	assert.Nil(t, snap.Tree.Tree)
}

func TestSearch_FailureKeepsResults(t *testing.T) {
	fx := newFixture(t)
	fx.session.Start(context.Background())

	fx.api.fail("search:wheel", errBoom)
	fx.session.SetQuery("wheel")
	require.Eventually(t, func() bool {
		return fx.session.Snapshot().Search.Err != ""
	}, 2*time.Second, 5*time.Millisecond)

	snap := fx.session.Snapshot()
	assert.Equal(t, "Request failed with status 500.", snap.Search.Err)
	assert.Len(t, snap.Search.Parts, 5)
	assert.Equal(t, "PART-0001", snap.SelectedID)
}

func TestSearch_StaleResponseDropped(t *testing.T) {
	fx := newFixture(t)
	fx.session.Start(context.Background())

	release := fx.api.gate("search:wheel")
	fx.session.SetQuery("wheel")
	fx.waitCalled(t, "search:wheel", 1)

	fx.session.SetQuery("frame")
	require.Eventually(t, func() bool {
		return fx.session.SelectedID() == "PART-0004"
	}, 2*time.Second, 5*time.Millisecond)

	release()
	time.Sleep(50 * time.Millisecond)
	snap := fx.session.Snapshot()
	require.Len(t, snap.Search.Parts, 1)
	assert.Equal(t, "PART-0004", snap.Search.Parts[0].ID)
	assert.Equal(t, "PART-0004", snap.SelectedID)
}

func TestSearch_RunsAtOnce(t *testing.T) {
	fx := newFixture(t, func(o *Options) { o.SearchDebounce = time.Hour })
	ctx := context.Background()
	fx.session.Start(ctx)
	fx.session.SetQuery("wheel")

	fx.session.Search(ctx, "saddle")
	snap := fx.session.Snapshot()
	assert.Equal(t, "saddle", snap.Search.Query)
	assert.Equal(t, "PART-0005", snap.SelectedID)
	require.NotNil(t, snap.Details.Data, "the selection load settles before Search returns")
	assert.Equal(t, 0, fx.api.count("search:wheel"), "pending debounced search is dropped")
}
