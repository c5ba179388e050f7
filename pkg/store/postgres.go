package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/chantierhq/chantier/pkg/contracts"
)

// PostgresStore implements Store using PostgreSQL. All statements are
// parameterized; the updatable column names come from a switch over the
// closed Field set, never from caller input.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresStore creates a store and runs its migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the clock for deterministic testing.
func (s *PostgresStore) WithClock(clock func() time.Time) *PostgresStore {
	s.clock = clock
	return s
}

func (s *PostgresStore) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id BIGSERIAL PRIMARY KEY,
			section_id TEXT NOT NULL,
			section_label TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL DEFAULT '',
			product TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			supplier_link TEXT NOT NULL DEFAULT '',
			labor_type TEXT NOT NULL DEFAULT '',
			price_ttc NUMERIC(10,2),
			price_ht_quote NUMERIC(10,2),
			ordered BOOLEAN NOT NULL DEFAULT FALSE,
			order_date TEXT NOT NULL DEFAULT '',
			delivery_date TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			item_id BIGINT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			note TEXT NOT NULL DEFAULT '',
			replacement_urls TEXT[] NOT NULL DEFAULT '{}',
			validated_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (item_id, role)
		)`,
		`CREATE TABLE IF NOT EXISTS edit_history (
			id UUID PRIMARY KEY,
			item_id BIGINT REFERENCES items(id) ON DELETE SET NULL,
			section_id TEXT NOT NULL DEFAULT '',
			section_label TEXT NOT NULL DEFAULT '',
			product TEXT NOT NULL DEFAULT '',
			field_path TEXT NOT NULL,
			old_value JSONB,
			new_value JSONB,
			source TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edit_history_item ON edit_history (item_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return contracts.WrapTransient(err)
		}
	}
	return nil
}

const itemColumns = `id, section_id, section_label, project_id, product, reference,
	supplier_link, labor_type, price_ttc, price_ht_quote, ordered, order_date,
	delivery_date, created_at, updated_at`

func (s *PostgresStore) GetItem(ctx context.Context, id int64) (*contracts.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, contracts.NotFoundItem(id)
	}
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	return item, nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_id, role, status, note, replacement_urls, validated_at, updated_at
		 FROM approvals WHERE item_id = $1 AND role = $2`, itemID, role)

	var a contracts.Approval
	var urls pq.StringArray
	var validatedAt sql.NullTime
	err := row.Scan(&a.ItemID, &a.Role, &a.Status, &a.Note, &urls, &validatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	a.ReplacementURLs = []string(urls)
	if validatedAt.Valid {
		a.ValidatedAt = &validatedAt.Time
	}
	return &a, nil
}

func (s *PostgresStore) ListItemsNeedingValidation(ctx context.Context, role contracts.Role, projectID string) ([]ValidationItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.section_id, i.section_label, i.product,
			COALESCE(a.status, 'pending'), i.reference
		 FROM items i
		 LEFT JOIN approvals a ON a.item_id = i.id AND a.role = $1
		 WHERE (a.status IS NULL OR a.status = 'pending')
		   AND ($2 = '' OR i.project_id = $2)
		 ORDER BY i.id`, role, projectID)
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	defer func() { _ = rows.Close() }()

	out := []ValidationItem{}
	for rows.Next() {
		var v ValidationItem
		if err := rows.Scan(&v.ItemID, &v.SectionID, &v.SectionLabel, &v.Product, &v.Status, &v.CurrentValue); err != nil {
			return nil, contracts.WrapTransient(err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTodoItems(ctx context.Context, role contracts.Role, projectID string) ([]TodoItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.id, i.section_id, i.section_label, i.product, a.status, i.labor_type
		 FROM items i
		 JOIN approvals a ON a.item_id = i.id AND a.role = $1
		 WHERE a.status IN ('rejected', 'change_order')
		   AND ($2 = '' OR i.project_id = $2)
		 ORDER BY i.id`, role, projectID)
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	defer func() { _ = rows.Close() }()

	out := []TodoItem{}
	for rows.Next() {
		var t TodoItem
		if err := rows.Scan(&t.ItemID, &t.SectionID, &t.SectionLabel, &t.Product, &t.ActionReason, &t.LaborType); err != nil {
			return nil, contracts.WrapTransient(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListItemsBySection(ctx context.Context, sectionID, projectID string) ([]contracts.Item, error) {
	return s.listItems(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE section_id = $1 AND ($2 = '' OR project_id = $2) ORDER BY id`,
		sectionID, projectID)
}

func (s *PostgresStore) SearchItems(ctx context.Context, productSearch, projectID string) ([]contracts.Item, error) {
	return s.listItems(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE product ILIKE '%' || $1 || '%' AND ($2 = '' OR project_id = $2) ORDER BY id`,
		productSearch, projectID)
}

func (s *PostgresStore) GetPricingSummary(ctx context.Context, projectID string) (*PricingSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(price_ttc), 0), COALESCE(SUM(price_ht_quote), 0), COUNT(*)
		 FROM items WHERE ($1 = '' OR project_id = $1)`, projectID)
	var p PricingSummary
	if err := row.Scan(&p.TotalTTC, &p.TotalHT, &p.ItemCount); err != nil {
		return nil, contracts.WrapTransient(err)
	}
	return &p, nil
}

func (s *PostgresStore) ApplyMutation(ctx context.Context, req ApplyRequest) (*contracts.AppliedMutation, error) {
	if req.Diff.NoEffect {
		return &contracts.AppliedMutation{Diff: req.Diff}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	defer func() { _ = tx.Rollback() }()

	d := req.Descriptor
	now := s.clock()

	// Lock the item row for the duration of the change so the audit
	// entry describes the row it was written with.
	var sectionID, sectionLabel, product string
	err = tx.QueryRowContext(ctx,
		`SELECT section_id, section_label, product FROM items WHERE id = $1 FOR UPDATE`,
		d.ItemID).Scan(&sectionID, &sectionLabel, &product)
	if err == sql.ErrNoRows {
		return nil, contracts.NotFoundItem(d.ItemID)
	}
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}

	switch d.Op {
	case contracts.OpUpdateField:
		column, ok := fieldColumn(d.Field)
		if !ok {
			return nil, contracts.E(contracts.KindValidation, "field %q is not updatable", d.Field)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE items SET `+column+` = $1, updated_at = $2 WHERE id = $3`,
			req.Diff.NewValue, now, d.ItemID)

	case contracts.OpUpdateApproval:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO approvals (item_id, role, status, validated_at, updated_at)
			 VALUES ($1, $2, $3, $4, $4)
			 ON CONFLICT (item_id, role) DO UPDATE
			 SET status = EXCLUDED.status, validated_at = $4, updated_at = $4`,
			d.ItemID, d.Role, req.Diff.NewValue, now)

	case contracts.OpAddReplacementURL:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO approvals (item_id, role, status, replacement_urls, updated_at)
			 VALUES ($1, $2, 'pending', ARRAY[$3], $4)
			 ON CONFLICT (item_id, role) DO UPDATE
			 SET replacement_urls = array_append(approvals.replacement_urls, $3), updated_at = $4
			 WHERE NOT ($3 = ANY(approvals.replacement_urls))`,
			d.ItemID, d.Role, d.NewValue, now)

	case contracts.OpRemoveReplacementURL:
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`UPDATE approvals
			 SET replacement_urls = array_remove(replacement_urls, $3), updated_at = $4
			 WHERE item_id = $1 AND role = $2 AND $3 = ANY(replacement_urls)`,
			d.ItemID, d.Role, d.NewValue, now)
		if err == nil {
			var n int64
			if n, err = res.RowsAffected(); err == nil && n == 0 {
				return nil, contracts.E(contracts.KindNotFound, "replacement url not present on item %d for role %s", d.ItemID, d.Role)
			}
		}

	default:
		return nil, contracts.E(contracts.KindValidation, "unknown mutation op %q", d.Op)
	}
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}

	auditID := uuid.New().String()
	oldJSON, err := json.Marshal(req.Diff.OldValue)
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	newJSON, err := json.Marshal(req.Diff.NewValue)
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO edit_history (id, item_id, section_id, section_label, product,
			field_path, old_value, new_value, source, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		auditID, d.ItemID, sectionID, sectionLabel, product,
		req.Diff.FieldPath, oldJSON, newJSON, req.Source, now)
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, contracts.WrapTransient(err)
	}
	return &contracts.AppliedMutation{Diff: req.Diff, AuditID: auditID}, nil
}

func (s *PostgresStore) listItems(ctx context.Context, query string, args ...any) ([]contracts.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	defer func() { _ = rows.Close() }()

	out := []contracts.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, contracts.WrapTransient(err)
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*contracts.Item, error) {
	var item contracts.Item
	var priceTTC, priceHT sql.NullFloat64
	err := row.Scan(&item.ID, &item.SectionID, &item.SectionLabel, &item.ProjectID,
		&item.Product, &item.Reference, &item.SupplierLink, &item.LaborType,
		&priceTTC, &priceHT, &item.Ordered, &item.OrderDate, &item.DeliveryDate,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if priceTTC.Valid {
		item.PriceTTC = &priceTTC.Float64
	}
	if priceHT.Valid {
		item.PriceHTQuote = &priceHT.Float64
	}
	return &item, nil
}

// fieldColumn maps the closed Field set to its column. Returning the
// column from this switch is what keeps ad-hoc column names out of SQL.
func fieldColumn(f contracts.Field) (string, bool) {
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
