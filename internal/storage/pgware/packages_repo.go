package pgware

import (
	"context"
	"time"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const packageColumns = `
  id, customer_id, customer_suite, customer_tier,
  priority, handling_tags, status, shipment_id,
  delivery_code, code_issued_at, code_redeemed_at,
  created_at, updated_at`

func scanPackage(row pgx.Row) (*models.Package, error) {
	var p models.Package
	if err := row.Scan(
		&p.ID, &p.CustomerID, &p.CustomerSuite, &p.CustomerTier,
		&p.Priority, &p.HandlingTags, &p.Status, &p.ShipmentID,
		&p.DeliveryCode, &p.CodeIssuedAt, &p.CodeRedeemedAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Storage) CreatePackages(ctx context.Context, items []models.PackageCreateInput) ([]*models.Package, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		tags := it.HandlingTags
		if tags == nil {
			tags = []string{}
		}
		var id uint64
		err := tx.QueryRow(ctx, `
INSERT INTO packages (
  customer_id, customer_suite, customer_tier, priority, handling_tags, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING id
`, it.CustomerID, it.CustomerSuite, it.CustomerTier, it.Priority, tags, models.PackageStatusPending, now).Scan(&id)
		if err != nil {
			return nil, errors.Wrap(err, "insert package")
		}

		_, err = tx.Exec(ctx, `
INSERT INTO package_status_history (package_id, status, actor, reason, created_at)
VALUES ($1,$2,$3,$4,$5)
`, id, models.PackageStatusPending, "intake", "package registered", now)
		if err != nil {
			return nil, errors.Wrap(err, "insert intake history")
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetPackagesByIDs(ctx, ids)
}

func (s *Storage) GetPackagesByIDs(ctx context.Context, ids []uint64) ([]*models.Package, error) {
	if len(ids) == 0 {
		return []*models.Package{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select packages")
	}
	defer rows.Close()

	out := make([]*models.Package, 0, len(ids))
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan package")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetPackageByID возвращает (nil, nil), если посылки нет.
func (s *Storage) GetPackageByID(ctx context.Context, id uint64) (*models.Package, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return p, nil
}

func (s *Storage) ListHistory(ctx context.Context, packageID uint64, limit, offset int) ([]*models.StatusHistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, package_id, status, actor, reason, location, created_at
FROM package_status_history
WHERE package_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`, packageID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.StatusHistoryEntry
	for rows.Next() {
		var h models.StatusHistoryEntry
		if err := rows.Scan(&h.ID, &h.PackageID, &h.Status, &h.Actor, &h.Reason, &h.Location, &h.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		out = append(out, &h)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

type TransitionUpdate struct {
	PackageID uint64

	From string
	To   string

	Actor    string
	Reason   string
	Location string
}

type TransitionResult struct {
	Applied bool

	ShipmentID       *uint64
	ShipmentPromoted bool
}

// ApplyTransition выполняет принятый переход одной транзакцией:
// условный UPDATE (оптимистическая защита от параллельного перехода),
// запись журнала и — при доставке последней посылки — промоушен отправления.
func (s *Storage) ApplyTransition(ctx context.Context, upd TransitionUpdate) (TransitionResult, error) {
	now := time.Now().UTC()
	var res TransitionResult

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var shipmentID *uint64
	err = tx.QueryRow(ctx, `
UPDATE packages
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING shipment_id
`, upd.PackageID, upd.From, upd.To, now).Scan(&shipmentID)
	if err == pgx.ErrNoRows {
		// Статус ушёл из-под нас — переход не применяем.
		return res, nil
	}
	if err != nil {
		return res, errors.Wrap(err, "update package status")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO package_status_history (package_id, status, actor, reason, location, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, upd.PackageID, upd.To, upd.Actor, upd.Reason, upd.Location, now)
	if err != nil {
		return res, errors.Wrap(err, "insert history")
	}

	res.Applied = true
	res.ShipmentID = shipmentID

	if upd.To == models.PackageStatusDelivered && shipmentID != nil {
		promoted, err := promoteShipmentTx(ctx, tx, *shipmentID, now)
		if err != nil {
			return TransitionResult{}, err
		}
		res.ShipmentPromoted = promoted
	}

	if err := tx.Commit(ctx); err != nil {
		return TransitionResult{}, errors.Wrap(err, "commit tx")
	}
	return res, nil
}
