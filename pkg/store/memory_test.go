package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chantierhq/chantier/pkg/contracts"
)

func testClock() func() time.Time {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func seedItems(s *MemoryStore) {
	ttc := 349.90
	ht := 280.0
	s.PutItem(contracts.Item{
		ID: 1, SectionID: "sec-plumbing", SectionLabel: "Plumbing",
		ProjectID: "proj-1", Product: "Kitchen Faucet",
		Reference: "GROHE-32663", PriceTTC: &ttc, PriceHTQuote: &ht,
	})
	s.PutItem(contracts.Item{
		ID: 2, SectionID: "sec-plumbing", SectionLabel: "Plumbing",
		ProjectID: "proj-1", Product: "Shower Column", LaborType: "plumber",
	})
	s.PutItem(contracts.Item{
		ID: 3, SectionID: "sec-electric", SectionLabel: "Electrical",
		ProjectID: "proj-2", Product: "Ceiling Spotlights",
	})
}

func TestApplyMutationFieldUpdate(t *testing.T) {
	s := NewMemoryStore().WithClock(testClock())
	seedItems(s)
	ctx := context.Background()

	applied, err := s.ApplyMutation(ctx, ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpUpdateField, ItemID: 1, Field: contracts.FieldReference,
		},
		Diff: contracts.Diff{
			ItemID: 1, FieldPath: "reference",
			OldValue: "GROHE-32663", NewValue: "GROHE-31368",
		},
		Source: contracts.SourceAgent,
	})
	require.NoError(t, err)
	require.NotEmpty(t, applied.AuditID)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "GROHE-31368", item.Reference)

	entries := s.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, applied.AuditID, entries[0].ID)
	assert.Equal(t, "reference", entries[0].FieldPath)
	assert.Equal(t, "GROHE-32663", entries[0].OldValue)
	assert.Equal(t, contracts.SourceAgent, entries[0].Source)
}

func TestApplyMutationApprovalUpsert(t *testing.T) {
	s := NewMemoryStore().WithClock(testClock())
	seedItems(s)
	ctx := context.Background()

	_, err := s.ApplyMutation(ctx, ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpUpdateApproval, ItemID: 1, Role: contracts.RoleClient,
		},
		Diff: contracts.Diff{ItemID: 1, FieldPath: "approvals.client.status", NewValue: "approved"},
	})
	require.NoError(t, err)

	a, err := s.GetApproval(ctx, 1, contracts.RoleClient)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, contracts.StatusApproved, a.Status)
	require.NotNil(t, a.ValidatedAt)

	// Second write updates the same row.
	_, err = s.ApplyMutation(ctx, ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpUpdateApproval, ItemID: 1, Role: contracts.RoleClient,
		},
		Diff: contracts.Diff{ItemID: 1, FieldPath: "approvals.client.status", NewValue: "rejected"},
	})
	require.NoError(t, err)

	a, err = s.GetApproval(ctx, 1, contracts.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusRejected, a.Status)
	assert.Len(t, s.AuditEntries(), 2)
}

func TestApplyMutationNoEffect(t *testing.T) {
	s := NewMemoryStore()
	seedItems(s)

	applied, err := s.ApplyMutation(context.Background(), ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpAddReplacementURL, ItemID: 1, Role: contracts.RoleClient,
			NewValue: "https://example.com/alt",
		},
		Diff: contracts.Diff{ItemID: 1, NewValue: "https://example.com/alt", NoEffect: true},
	})
	require.NoError(t, err)
	assert.Empty(t, applied.AuditID)
	assert.Empty(t, s.AuditEntries())

	a, err := s.GetApproval(context.Background(), 1, contracts.RoleClient)
	require.NoError(t, err)
	assert.Nil(t, a, "a no-op must not create an approval row")
}

func TestApplyMutationMissingItem(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.ApplyMutation(context.Background(), ApplyRequest{
		Descriptor: contracts.MutationDescriptor{
			Op: contracts.OpUpdateField, ItemID: 99, Field: contracts.FieldProduct,
		},
		Diff: contracts.Diff{ItemID: 99, NewValue: "x"},
	})
	assert.Equal(t, contracts.KindNotFound, contracts.KindOf(err))
	assert.Empty(t, s.AuditEntries(), "a failed change writes no audit entry")
}

func TestGetApprovalAbsentReturnsNilNil(t *testing.T) {
	s := NewMemoryStore()
	seedItems(s)

	a, err := s.GetApproval(context.Background(), 1, contracts.RoleContractor)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestListItemsNeedingValidation(t *testing.T) {
	s := NewMemoryStore()
	seedItems(s)
	s.PutApproval(contracts.Approval{ItemID: 1, Role: contracts.RoleClient, Status: contracts.StatusApproved})
	s.PutApproval(contracts.Approval{ItemID: 2, Role: contracts.RoleClient, Status: contracts.StatusPending})

	out, err := s.ListItemsNeedingValidation(context.Background(), contracts.RoleClient, "proj-1")
	require.NoError(t, err)
	require.Len(t, out, 1, "approved items drop out, pending and unreviewed stay")
	assert.Equal(t, int64(2), out[0].ItemID)
}

func TestListTodoItems(t *testing.T) {
	s := NewMemoryStore()
	seedItems(s)
	s.PutApproval(contracts.Approval{ItemID: 1, Role: contracts.RoleClient, Status: contracts.StatusRejected})
	s.PutApproval(contracts.Approval{ItemID: 2, Role: contracts.RoleClient, Status: contracts.StatusChangeOrder})
	s.PutApproval(contracts.Approval{ItemID: 3, Role: contracts.RoleClient, Status: contracts.StatusApproved})

	out, err := s.ListTodoItems(context.Background(), contracts.RoleClient, "")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "rejected", out[0].ActionReason)
	assert.Equal(t, "change_order", out[1].ActionReason)
}

func TestSearchItems(t *testing.T) {
	s := NewMemoryStore()
	seedItems(s)

	out, err := s.SearchItems(context.Background(), "faucet", "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Kitchen Faucet", out[0].Product)

	out, err = s.SearchItems(context.Background(), "faucet", "proj-2")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGetPricingSummary(t *testing.T) {
	s := NewMemoryStore()
	seedItems(s)

	summary, err := s.GetPricingSummary(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ItemCount)
	assert.InDelta(t, 349.90, summary.TotalTTC, 0.001)
	assert.InDelta(t, 280.0, summary.TotalHT, 0.001)
}
