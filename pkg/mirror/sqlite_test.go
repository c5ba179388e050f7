package mirror

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/store"
)

func openTestMirror(t *testing.T) *SQLiteMirror {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func fieldReq(itemID int64, field contracts.Field, value any) store.ApplyRequest {
	return store.ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpUpdateField, ItemID: itemID, Field: field, NewValue: value,
		},
		Diff: contracts.Diff{ItemID: itemID, FieldPath: string(field), NewValue: value},
	}
}

func TestApplyFieldUpsertsRow(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	// First write creates the legacy row.
	require.NoError(t, m.Apply(ctx, fieldReq(42, contracts.FieldReference, "GROHE-32663")))
	// Second write updates it in place.
	require.NoError(t, m.Apply(ctx, fieldReq(42, contracts.FieldReference, "GROHE-31368")))

	item, err := m.ReadItem(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "GROHE-31368", item.Reference)
}

func TestApplyPriceAndOrdered(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, fieldReq(42, contracts.FieldPriceTTC, 349.90)))
	require.NoError(t, m.Apply(ctx, fieldReq(42, contracts.FieldOrdered, true)))

	item, err := m.ReadItem(ctx, 42)
	require.NoError(t, err)
	require.NotNil(t, item.PriceTTC)
	assert.InDelta(t, 349.90, *item.PriceTTC, 0.001)
	assert.True(t, item.Ordered)
}

func TestApplyApprovalStatus(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, store.ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpUpdateApproval, ItemID: 42, Role: contracts.RoleClient,
		},
		Diff: contracts.Diff{ItemID: 42, NewValue: "approved"},
	}))

	a, err := m.ReadApproval(ctx, 42, contracts.RoleClient)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, contracts.StatusApproved, a.Status)

	// The other role's status stays unset.
	a, err = m.ReadApproval(ctx, 42, contracts.RoleContractor)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestApplyReplacementURLs(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	add := func(url string) store.ApplyRequest {
		return store.ApplyRequest{
			Descriptor: contracts.MutationDescriptor{
				Op: contracts.OpAddReplacementURL, ItemID: 42,
				Role: contracts.RoleClient, NewValue: url,
			},
			Diff: contracts.Diff{ItemID: 42, NewValue: url},
		}
	}

	require.NoError(t, m.Apply(ctx, add("https://example.com/alt-1")))
	require.NoError(t, m.Apply(ctx, add("https://example.com/alt-2")))
	// Duplicate add is idempotent in the legacy encoding too.
	require.NoError(t, m.Apply(ctx, add("https://example.com/alt-1")))
	// URLs alone do not make an approval visible; set a status first.
	require.NoError(t, m.Apply(ctx, store.ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpUpdateApproval, ItemID: 42, Role: contracts.RoleClient,
		},
		Diff: contracts.Diff{ItemID: 42, NewValue: "change_order"},
	}))

	a, err := m.ReadApproval(ctx, 42, contracts.RoleClient)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, []string{"https://example.com/alt-1", "https://example.com/alt-2"}, a.ReplacementURLs)

	require.NoError(t, m.Apply(ctx, store.ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpRemoveReplacementURL, ItemID: 42,
			Role: contracts.RoleClient, NewValue: "https://example.com/alt-1",
		},
		Diff: contracts.Diff{ItemID: 42, NewValue: "https://example.com/alt-1"},
	}))

	a, err = m.ReadApproval(ctx, 42, contracts.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/alt-2"}, a.ReplacementURLs)
}

func TestApplyNoEffectWritesNothing(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, store.ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpAddReplacementURL, ItemID: 42, Role: contracts.RoleClient,
		},
		Diff: contracts.Diff{ItemID: 42, NoEffect: true},
	}))

	_, err := m.ReadItem(ctx, 42)
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

func TestReadItemMissing(t *testing.T) {
	m := openTestMirror(t)
	_, err := m.ReadItem(context.Background(), 99)
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
}

// A failing mirror read must surface as a generic Transient error, so
// the driver's text never rides the fallback path to a caller.
func TestReadErrorsWrappedAsTransient(t *testing.T) {
	m := openTestMirror(t)
	ctx := context.Background()
	require.NoError(t, m.Apply(ctx, fieldReq(42, contracts.FieldReference, "GROHE-32663")))
	require.NoError(t, m.Close())

	_, err := m.ReadItem(ctx, 42)
	require.Error(t, err)
	assert.Equal(t, contracts.KindTransient, contracts.KindOf(err))
	assert.NotContains(t, err.Error(), "closed")

	_, err = m.ReadApproval(ctx, 42, contracts.RoleClient)
	require.Error(t, err)
	assert.Equal(t, contracts.KindTransient, contracts.KindOf(err))
	assert.NotContains(t, err.Error(), "closed")
}
