package pgware

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  status TEXT NOT NULL,
  total_packages INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS packages (
  id BIGSERIAL PRIMARY KEY,
  customer_id BIGINT NOT NULL,
  customer_suite TEXT NOT NULL,
  customer_tier TEXT NOT NULL,
  priority TEXT NOT NULL,
  handling_tags TEXT[] NOT NULL DEFAULT '{}',
  status TEXT NOT NULL,
  shipment_id BIGINT NULL REFERENCES shipments(id),
  delivery_code TEXT NULL,
  code_issued_at TIMESTAMPTZ NULL,
  code_redeemed_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_shipment_id ON packages(shipment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_status ON packages(status)`,
		`
CREATE TABLE IF NOT EXISTS package_status_history (
  id BIGSERIAL PRIMARY KEY,
  package_id BIGINT NOT NULL REFERENCES packages(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  actor TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_package_status_history_pkg ON package_status_history(package_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS shipment_status_history (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipment_status_history_sh ON shipment_status_history(shipment_id, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
