package pgware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// IssueDeliveryCode сохраняет код выдачи ровно один раз: условие
// delivery_code IS NULL делает повторную выдачу no-op'ом.
func (s *Storage) IssueDeliveryCode(ctx context.Context, packageID uint64, code string) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.db.Exec(ctx, `
UPDATE packages
SET delivery_code = $2, code_issued_at = $3, updated_at = $3
WHERE id = $1 AND status = $4 AND delivery_code IS NULL
`, packageID, code, now, models.PackageStatusArrived)
	if err != nil {
		return false, errors.Wrap(err, "issue delivery code")
	}
	return tag.RowsAffected() == 1, nil
}

// ListCodelessArrived находит посылки, застрявшие в arrived без кода выдачи:
// переход зафиксировался, а выдача кода после него сорвалась. Используется
// фоновым ремонтом, выдача идемпотентна.
func (s *Storage) ListCodelessArrived(ctx context.Context, limit int) ([]*models.Package, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE status = $1 AND delivery_code IS NULL
ORDER BY id
LIMIT $2
`, models.PackageStatusArrived, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select codeless arrived")
	}
	defer rows.Close()

	var out []*models.Package
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

type RedeemUpdate struct {
	PackageID   uint64
	SuiteNumber string
	Code        string
	StaffID     uint64
	StaffActor  string
}

type RedeemResult struct {
	Verified bool

	// FailureCode — один из models.RedeemFail* при отказе, иначе пустой.
	FailureCode string

	ShipmentID       *uint64
	ShipmentPromoted bool
}

// RedeemDeliveryCode гасит код выдачи одной транзакцией. Строка посылки
// блокируется FOR UPDATE, поэтому из двух одновременных попыток погашения
// успешной может быть только одна. При отказе мутаций нет.
func (s *Storage) RedeemDeliveryCode(ctx context.Context, upd RedeemUpdate) (RedeemResult, error) {
	now := time.Now().UTC()
	var res RedeemResult

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return res, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPackage(tx.QueryRow(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = $1 FOR UPDATE`, upd.PackageID))
	if err == pgx.ErrNoRows {
		p = nil
	} else if err != nil {
		return res, errors.Wrap(err, "lock package")
	}

	if fail := evaluateRedemption(p, upd.SuiteNumber, upd.Code); fail != "" {
		res.FailureCode = fail
		return res, nil
	}

	_, err = tx.Exec(ctx, `
UPDATE packages
SET status = $2, code_redeemed_at = $3, updated_at = $3
WHERE id = $1
`, upd.PackageID, models.PackageStatusDelivered, now)
	if err != nil {
		return RedeemResult{}, errors.Wrap(err, "mark delivered")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO package_status_history (package_id, status, actor, reason, created_at)
VALUES ($1,$2,$3,$4,$5)
`, upd.PackageID, models.PackageStatusDelivered, redeemActor(upd), "delivery code redeemed", now)
	if err != nil {
		return RedeemResult{}, errors.Wrap(err, "insert history")
	}

	res.Verified = true
	res.ShipmentID = p.ShipmentID

	if p.ShipmentID != nil {
		promoted, err := promoteShipmentTx(ctx, tx, *p.ShipmentID, now)
		if err != nil {
			return RedeemResult{}, err
		}
		res.ShipmentPromoted = promoted
	}

	if err := tx.Commit(ctx); err != nil {
		return RedeemResult{}, errors.Wrap(err, "commit tx")
	}
	return res, nil
}

// redeemActor — значение actor для журнала: имя сотрудника, а при его
// отсутствии числовой идентификатор, чтобы запись не осталась безымянной.
func redeemActor(upd RedeemUpdate) string {
	if a := strings.TrimSpace(upd.StaffActor); a != "" {
		return a
	}
	return fmt.Sprintf("staff:%d", upd.StaffID)
}

// evaluateRedemption — чистая проверка погашения; каждая причина
// самодостаточна для отказа. Погашенный код распознаём раньше проверки
// статуса, иначе повторная попытка выглядела бы как InvalidState.
func evaluateRedemption(p *models.Package, suite, code string) string {
	switch {
	case p == nil:
		return models.RedeemFailPackageNotFound
	case p.CodeRedeemedAt != nil:
		return models.RedeemFailCodeAlreadyUsed
	case p.Status != models.PackageStatusArrived:
		return models.RedeemFailInvalidState
	case p.DeliveryCode == nil:
		return models.RedeemFailCodeNotIssued
	case !strings.EqualFold(strings.TrimSpace(suite), strings.TrimSpace(p.CustomerSuite)):
		return models.RedeemFailSuiteMismatch
	case code != *p.DeliveryCode:
		return models.RedeemFailCodeMismatch
	}
	return ""
}
