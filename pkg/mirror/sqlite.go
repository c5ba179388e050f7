// Package mirror writes a best-effort copy of every committed mutation
// into the legacy SQLite store that predates the postgres migration.
// The mirror is never authoritative: writes to it may fail without
// affecting callers, and reads from it are a last resort when the
// authoritative store is unreachable.
package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/store"
)

// Mirror is the secondary store the dual-write coordinator targets.
type Mirror interface {
	// Apply replays a committed mutation into the mirror.
	Apply(ctx context.Context, req store.ApplyRequest) error
	// ReadItem returns the mirror's view of an item. Legacy rows carry no
	// section data; callers treat the result as a degraded snapshot.
	ReadItem(ctx context.Context, id int64) (*contracts.Item, error)
	// ReadApproval returns the mirror's view of an approval, or nil.
	ReadApproval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error)
}

// SQLiteMirror is the legacy single-file store.
type SQLiteMirror struct {
	db *sql.DB
}

// Open opens (or creates) the legacy mirror file and ensures its schema.
func Open(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	m := &SQLiteMirror{db: db}
	if err := m.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// NewSQLiteMirror wraps an already-open handle, for tests.
func NewSQLiteMirror(db *sql.DB) (*SQLiteMirror, error) {
	m := &SQLiteMirror{db: db}
	if err := m.migrate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *SQLiteMirror) Close() error { return m.db.Close() }

func (m *SQLiteMirror) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS legacy_items (
		item_id INTEGER PRIMARY KEY,
		product TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		supplier_link TEXT NOT NULL DEFAULT '',
		labor_type TEXT NOT NULL DEFAULT '',
		price_ttc REAL,
		price_ht_quote REAL,
		ordered INTEGER NOT NULL DEFAULT 0,
		order_date TEXT NOT NULL DEFAULT '',
		delivery_date TEXT NOT NULL DEFAULT '',
		client_status TEXT NOT NULL DEFAULT '',
		contractor_status TEXT NOT NULL DEFAULT '',
		client_replacement_urls TEXT NOT NULL DEFAULT '[]',
		contractor_replacement_urls TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME
	);`
	_, err := m.db.ExecContext(context.Background(), query)
	return err
}

func (m *SQLiteMirror) Apply(ctx context.Context, req store.ApplyRequest) error {
	if req.Diff.NoEffect {
		return nil
	}
	d := req.Descriptor
	now := time.Now().UTC()

	switch d.Op {
	case contracts.OpUpdateField:
		column, ok := legacyColumn(d.Field)
		if !ok {
			return fmt.Errorf("mirror: field %q has no legacy column", d.Field)
		}
		return m.upsert(ctx, d.ItemID, column, req.Diff.NewValue, now)

	case contracts.OpUpdateApproval:
		column, err := statusColumn(d.Role)
		if err != nil {
			return err
		}
		return m.upsert(ctx, d.ItemID, column, req.Diff.NewValue, now)

	case contracts.OpAddReplacementURL, contracts.OpRemoveReplacementURL:
		return m.updateReplacementURLs(ctx, d, now)
	}
	return fmt.Errorf("mirror: unknown op %q", d.Op)
}

func (m *SQLiteMirror) upsert(ctx context.Context, itemID int64, column string, value any, now time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO legacy_items (item_id, %[1]s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`,
		column)
	_, err := m.db.ExecContext(ctx, query, itemID, value, now)
	return err
}

func (m *SQLiteMirror) updateReplacementURLs(ctx context.Context, d contracts.MutationDescriptor, now time.Time) error {
	column, err := urlsColumn(d.Role)
	if err != nil {
		return err
	}
	url, _ := d.NewValue.(string)

	var raw string
	err = m.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM legacy_items WHERE item_id = ?`, column), d.ItemID).Scan(&raw)
	if err == sql.ErrNoRows {
		raw = "[]"
	} else if err != nil {
		return err
	}

	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		urls = nil
	}
	switch d.Op {
	case contracts.OpAddReplacementURL:
		for _, u := range urls {
			if u == url {
				return nil
			}
		}
		urls = append(urls, url)
	case contracts.OpRemoveReplacementURL:
		kept := urls[:0]
		for _, u := range urls {
			if u != url {
				kept = append(kept, u)
			}
		}
		urls = kept
	}
	encoded, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	return m.upsert(ctx, d.ItemID, column, string(encoded), now)
}

func (m *SQLiteMirror) ReadItem(ctx context.Context, id int64) (*contracts.Item, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT item_id, product, reference, supplier_link, labor_type,
			price_ttc, price_ht_quote, ordered, order_date, delivery_date
		 FROM legacy_items WHERE item_id = ?`, id)

	var item contracts.Item
	var priceTTC, priceHT sql.NullFloat64
	err := row.Scan(&item.ID, &item.Product, &item.Reference, &item.SupplierLink,
		&item.LaborType, &priceTTC, &priceHT, &item.Ordered, &item.OrderDate, &item.DeliveryDate)
	if err == sql.ErrNoRows {
		return nil, contracts.NotFoundItem(id)
	}
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	if priceTTC.Valid {
		item.PriceTTC = &priceTTC.Float64
	}
	if priceHT.Valid {
		item.PriceHTQuote = &priceHT.Float64
	}
	return &item, nil
}

func (m *SQLiteMirror) ReadApproval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error) {
	statusCol, err := statusColumn(role)
	if err != nil {
		return nil, err
	}
	urlsCol, err := urlsColumn(role)
	if err != nil {
		return nil, err
	}
	row := m.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s, %s FROM legacy_items WHERE item_id = ?`, statusCol, urlsCol), itemID)

	var status, rawURLs string
	if err := row.Scan(&status, &rawURLs); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, contracts.WrapTransient(err)
	}
	if status == "" {
		return nil, nil
	}
	var urls []string
	_ = json.Unmarshal([]byte(rawURLs), &urls)
	return &contracts.Approval{
		ItemID:          itemID,
		Role:            role,
		Status:          contracts.ApprovalStatus(status),
		ReplacementURLs: urls,
	}, nil
}

// legacyColumn maps the closed Field set onto the legacy schema.
func legacyColumn(f contracts.Field) (string, bool) {
	switch f {
	case contracts.FieldProduct:
		return "product", true
	case contracts.FieldReference:
		return "reference", true
	case contracts.FieldSupplierLink:
		return "supplier_link", true
	case contracts.FieldLaborType:
		return "labor_type", true
	case contracts.FieldPriceTTC:
		return "price_ttc", true
	case contracts.FieldPriceHTQuote:
		return "price_ht_quote", true
	case contracts.FieldOrderDate:
		return "order_date", true
	case contracts.FieldDeliveryDate:
		return "delivery_date", true
	case contracts.FieldOrdered:
		return "ordered", true
	}
	return "", false
}

func statusColumn(role contracts.Role) (string, error) {
	switch role {
	case contracts.RoleClient:
		return "client_status", nil
	case contracts.RoleContractor:
		return "contractor_status", nil
	}
	return "", fmt.Errorf("mirror: unknown role %q", role)
}

func urlsColumn(role contracts.Role) (string, error) {
	switch role {
	case contracts.RoleClient:
		return "client_replacement_urls", nil
	case contracts.RoleContractor:
		return "contractor_replacement_urls", nil
	}
	return "", fmt.Errorf("mirror: unknown role %q", role)
}
