package pgware

import (
	"context"
	"time"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// CreateShipment группирует посылки в новое отправление. Все посылки должны
// быть в ready_for_grouping и без отправления; после группировки они
// переводятся в grouped с записью в журнал.
func (s *Storage) CreateShipment(ctx context.Context, packageIDs []uint64) (*models.Shipment, error) {
	if len(packageIDs) == 0 {
		return nil, errors.New("packageIDs is empty")
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Блокируем посылки, чтобы конкурентная группировка не растащила их
	// по двум отправлениям.
	rows, err := tx.Query(ctx, `
SELECT id, status, shipment_id
FROM packages
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE
`, packageIDs)
	if err != nil {
		return nil, errors.Wrap(err, "lock packages")
	}

	found := make(map[uint64]struct{}, len(packageIDs))
	for rows.Next() {
		var id uint64
		var st string
		var shipmentID *uint64
		if err := rows.Scan(&id, &st, &shipmentID); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan package")
		}
		if st != models.PackageStatusReadyForGrouping {
			rows.Close()
			return nil, errors.Errorf("package %d is not ready for grouping (status %q)", id, st)
		}
		if shipmentID != nil {
			rows.Close()
			return nil, errors.Errorf("package %d is already grouped into shipment %d", id, *shipmentID)
		}
		found[id] = struct{}{}
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	for _, id := range packageIDs {
		if _, ok := found[id]; !ok {
			return nil, errors.Errorf("package %d not found", id)
		}
	}

	var sh models.Shipment
	err = tx.QueryRow(ctx, `
INSERT INTO shipments (status, total_packages, created_at, updated_at)
VALUES ($1,$2,$3,$3)
RETURNING id, status, total_packages, created_at, updated_at
`, models.ShipmentStatusForming, len(packageIDs), now).Scan(
		&sh.ID, &sh.Status, &sh.TotalPackages, &sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment")
	}

	_, err = tx.Exec(ctx, `
UPDATE packages SET shipment_id = $2, status = $3, updated_at = $4 WHERE id = ANY($1)
`, packageIDs, sh.ID, models.PackageStatusGrouped, now)
	if err != nil {
		return nil, errors.Wrap(err, "attach packages")
	}

	for _, id := range packageIDs {
		_, err = tx.Exec(ctx, `
INSERT INTO package_status_history (package_id, status, actor, reason, created_at)
VALUES ($1,$2,$3,$4,$5)
`, id, models.PackageStatusGrouped, "grouping", "grouped into shipment", now)
		if err != nil {
			return nil, errors.Wrap(err, "insert grouping history")
		}
	}

	_, err = tx.Exec(ctx, `
INSERT INTO shipment_status_history (shipment_id, status, reason, created_at)
VALUES ($1,$2,$3,$4)
`, sh.ID, models.ShipmentStatusForming, "shipment created", now)
	if err != nil {
		return nil, errors.Wrap(err, "insert shipment history")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return &sh, nil
}

// GetShipmentByID возвращает (nil, nil), если отправления нет.
func (s *Storage) GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	var sh models.Shipment
	err := s.db.QueryRow(ctx, `
SELECT id, status, total_packages, created_at, updated_at FROM shipments WHERE id = $1
`, id).Scan(&sh.ID, &sh.Status, &sh.TotalPackages, &sh.CreatedAt, &sh.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return &sh, nil
}

// PromoteShipmentIfComplete — явная идемпотентная сверка агрегата:
// отправление становится delivered ровно тогда, когда доставлена каждая
// его посылка. Безопасно перезапускать, двигает статус только вперёд.
func (s *Storage) PromoteShipmentIfComplete(ctx context.Context, shipmentID uint64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	promoted, err := promoteShipmentTx(ctx, tx, shipmentID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return promoted, nil
}

// promoteShipmentTx выполняется внутри транзакции вызывающего: блокировка
// строки отправления сериализует конкурентные доставки посылок одного
// отправления.
func promoteShipmentTx(ctx context.Context, tx pgx.Tx, shipmentID uint64, now time.Time) (bool, error) {
	var st string
	var total int32
	err := tx.QueryRow(ctx, `
SELECT status, total_packages FROM shipments WHERE id = $1 FOR UPDATE
`, shipmentID).Scan(&st, &total)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "lock shipment")
	}
	if st == models.ShipmentStatusDelivered || total == 0 {
		return false, nil
	}

	var delivered int32
	err = tx.QueryRow(ctx, `
SELECT COUNT(*) FROM packages WHERE shipment_id = $1 AND status = $2
`, shipmentID, models.PackageStatusDelivered).Scan(&delivered)
	if err != nil {
		return false, errors.Wrap(err, "count delivered packages")
	}
	if delivered != total {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
UPDATE shipments SET status = $2, updated_at = $3 WHERE id = $1
`, shipmentID, models.ShipmentStatusDelivered, now)
	if err != nil {
		return false, errors.Wrap(err, "promote shipment")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO shipment_status_history (shipment_id, status, reason, created_at)
VALUES ($1,$2,$3,$4)
`, shipmentID, models.ShipmentStatusDelivered, "all packages delivered", now)
	if err != nil {
		return false, errors.Wrap(err, "insert shipment history")
	}
	return true, nil
}

// ListDriftedShipments находит отправления, у которых все посылки доставлены,
// а агрегатный статус отстал. Используется фоновым ремонтом.
func (s *Storage) ListDriftedShipments(ctx context.Context, limit int) ([]uint64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT s.id
FROM shipments s
WHERE s.status <> $1
  AND s.total_packages > 0
  AND NOT EXISTS (
    SELECT 1 FROM packages p
    WHERE p.shipment_id = s.id AND p.status <> $2
  )
ORDER BY s.id
LIMIT $3
`, models.ShipmentStatusDelivered, models.PackageStatusDelivered, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select drifted shipments")
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan shipment id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
