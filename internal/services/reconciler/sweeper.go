package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/WareBox/internal/broker/messages"
	"github.com/BearBump/WareBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	ListDriftedShipments(ctx context.Context, limit int) ([]uint64, error)
	ListCodelessArrived(ctx context.Context, limit int) ([]*models.Package, error)
}

// ShipmentReconciler — сверка одного отправления (services/shipments.Reconcile).
type ShipmentReconciler interface {
	Reconcile(ctx context.Context, shipmentID uint64) (bool, error)
}

// CodeIssuer — повторная выдача кода (services/delivery.Issue, идемпотентна).
type CodeIssuer interface {
	Issue(ctx context.Context, p *models.Package) error
}

// Sweeper — фоновый ремонт расхождений: досводит отправления, у которых все
// посылки доставлены, а агрегатный статус отстал, и довыдаёт коды посылкам,
// застрявшим в arrived без кода. Основные пути делают то же самое в своих
// транзакциях; sweeper подстраховывает от сбоев между шагами.
type Sweeper struct {
	repo   Repository
	rec    ShipmentReconciler
	issuer CodeIssuer

	sweepInterval time.Duration
	batchSize     int

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalScanned      atomic.Int64
	totalPromoted     atomic.Int64
	totalReissued     atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, rec ShipmentReconciler) *Sweeper {
	return &Sweeper{
		repo:          repo,
		rec:           rec,
		sweepInterval: 30 * time.Second,
		batchSize:     100,
		triggerCh:     make(chan struct{}, 1),

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithIssuer включает довыдачу кодов посылкам в arrived без кода.
func (s *Sweeper) WithIssuer(issuer CodeIssuer) *Sweeper {
	s.issuer = issuer
	return s
}

func (s *Sweeper) WithSettings(sweepInterval time.Duration, batchSize int) *Sweeper {
	if sweepInterval > 0 {
		s.sweepInterval = sweepInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	return s
}

// Trigger запускает внеочередной проход (best-effort, не блокирует).
func (s *Sweeper) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	TotalScanned  int64      `json:"totalScanned"`
	TotalPromoted int64      `json:"totalPromoted"`
	TotalReissued int64      `json:"totalReissued"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalScanned:  s.totalScanned.Load(),
		TotalPromoted: s.totalPromoted.Load(),
		TotalReissued: s.totalReissued.Load(),
		TotalErrors:   s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	s.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	ids, err := s.repo.ListDriftedShipments(ctx, s.batchSize)
	if err != nil {
		slog.Error("list drifted shipments", "error", err.Error())
		s.recordError(err)
		return
	}
	s.totalScanned.Add(int64(len(ids)))

	for _, id := range ids {
		promoted, err := s.rec.Reconcile(ctx, id)
		if err != nil {
			slog.Error("reconcile shipment", "shipmentId", id, "error", err.Error())
			s.recordError(err)
			continue
		}
		if promoted {
			s.totalPromoted.Add(1)
			slog.Info("shipment drift repaired", "shipmentId", id)
		}
	}

	s.reissueCodes(ctx)
}

// reissueCodes довыдаёт коды посылкам, у которых переход в arrived
// зафиксировался, а выдача кода после него сорвалась.
func (s *Sweeper) reissueCodes(ctx context.Context) {
	if s.issuer == nil {
		return
	}

	pkgs, err := s.repo.ListCodelessArrived(ctx, s.batchSize)
	if err != nil {
		slog.Error("list codeless arrived", "error", err.Error())
		s.recordError(err)
		return
	}
	s.totalScanned.Add(int64(len(pkgs)))

	for _, p := range pkgs {
		if err := s.issuer.Issue(ctx, p); err != nil {
			slog.Error("reissue delivery code", "packageId", p.ID, "error", err.Error())
			s.recordError(err)
			continue
		}
		s.totalReissued.Add(1)
		slog.Info("delivery code reissued", "packageId", p.ID)
	}
}

func (s *Sweeper) recordError(err error) {
	s.totalErrors.Add(1)
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}

// HandleDeliveredEvent — обработчик package.delivered из kafka: доставка
// посылки запускает сверку её отправления без ожидания тикера.
func (s *Sweeper) HandleDeliveredEvent(ctx context.Context, value []byte) error {
	var ev messages.PackageDelivered
	if err := json.Unmarshal(value, &ev); err != nil {
		return errors.Wrap(err, "decode package.delivered")
	}
	if ev.ShipmentID == nil {
		return nil
	}

	promoted, err := s.rec.Reconcile(ctx, *ev.ShipmentID)
	if err != nil {
		s.recordError(err)
		return err
	}
	if promoted {
		s.totalPromoted.Add(1)
	}
	return nil
}
