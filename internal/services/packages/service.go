package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/WareBox/internal/broker/messages"
	"github.com/BearBump/WareBox/internal/cache"
	"github.com/BearBump/WareBox/internal/models"
	"github.com/BearBump/WareBox/internal/overdue"
	"github.com/BearBump/WareBox/internal/rules"
	"github.com/BearBump/WareBox/internal/status"
	"github.com/BearBump/WareBox/internal/storage/pgware"
	"github.com/pkg/errors"
)

type Repository interface {
	CreatePackages(ctx context.Context, items []models.PackageCreateInput) ([]*models.Package, error)
	GetPackagesByIDs(ctx context.Context, ids []uint64) ([]*models.Package, error)
	GetPackageByID(ctx context.Context, id uint64) (*models.Package, error)
	ListHistory(ctx context.Context, packageID uint64, limit, offset int) ([]*models.StatusHistoryEntry, error)
	GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error)
	ApplyTransition(ctx context.Context, upd pgware.TransitionUpdate) (pgware.TransitionResult, error)
}

// CodeIssuer выдаёт код выдачи при входе посылки в arrived.
type CodeIssuer interface {
	Issue(ctx context.Context, p *models.Package) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo       Repository
	issuer     CodeIssuer
	producer   Producer
	cache      cache.BytesCache
	currentTTL time.Duration

	validator *status.Validator
	engine    *rules.Engine
	analyzer  *overdue.Analyzer
}

func New(repo Repository, issuer CodeIssuer, producer Producer, c cache.BytesCache, currentTTL time.Duration,
	validator *status.Validator, engine *rules.Engine, analyzer *overdue.Analyzer) *Service {
	return &Service{
		repo:       repo,
		issuer:     issuer,
		producer:   producer,
		cache:      c,
		currentTTL: currentTTL,
		validator:  validator,
		engine:     engine,
		analyzer:   analyzer,
	}
}

func (s *Service) CreatePackages(ctx context.Context, items []models.PackageCreateInput) ([]*models.Package, error) {
	if len(items) == 0 {
		return nil, errors.New("items is empty")
	}
	if len(items) > 1_000 {
		return nil, errors.New("too many items (max 1000)")
	}

	clean := make([]models.PackageCreateInput, 0, len(items))
	for _, it := range items {
		if it.CustomerID == 0 {
			return nil, errors.New("customerId is required")
		}
		if it.CustomerSuite == "" {
			return nil, errors.New("customerSuite is required")
		}
		if it.CustomerTier == "" {
			it.CustomerTier = models.CustomerTierStandard
		}
		switch it.CustomerTier {
		case models.CustomerTierStandard, models.CustomerTierPremium, models.CustomerTierEnterprise:
		default:
			return nil, errors.Errorf("unknown customer tier %q", it.CustomerTier)
		}
		if it.Priority == "" {
			it.Priority = models.PriorityMedium
		}
		switch it.Priority {
		case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		default:
			return nil, errors.Errorf("unknown priority %q", it.Priority)
		}
		clean = append(clean, it)
	}

	return s.repo.CreatePackages(ctx, clean)
}

// GetPackagesByIDs читает через best-effort кэш текущего состояния.
func (s *Service) GetPackagesByIDs(ctx context.Context, ids []uint64) ([]*models.Package, error) {
	if len(ids) == 0 {
		return []*models.Package{}, nil
	}

	miss := make([]uint64, 0, len(ids))
	got := make(map[uint64]*models.Package, len(ids))

	if s.cache != nil && s.currentTTL > 0 {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, cache.PackageCurrentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var p models.Package
			if json.Unmarshal(b, &p) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &p
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetPackagesByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, p := range fromDB {
			if s.cache != nil && s.currentTTL > 0 {
				b, _ := json.Marshal(p)
				_ = s.cache.Set(ctx, cache.PackageCurrentKey(p.ID), b, s.currentTTL)
			}
			got[p.ID] = p
		}
	}

	// Ответ в том же порядке, что ids.
	out := make([]*models.Package, 0, len(ids))
	for _, id := range ids {
		if p, ok := got[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) ListHistory(ctx context.Context, packageID uint64, limit, offset int) ([]*models.StatusHistoryEntry, error) {
	if packageID == 0 {
		return nil, errors.New("packageId is required")
	}
	return s.repo.ListHistory(ctx, packageID, limit, offset)
}

// TransitionOutcome — структурный результат предложенного перехода:
// "не применился" и "применился с предупреждениями" различимы.
type TransitionOutcome struct {
	Accepted    bool             `json:"accepted"`
	Errors      []models.Finding `json:"errors"`
	Warnings    []models.Finding `json:"warnings"`
	Suggestions []models.Finding `json:"suggestions"`
}

func rejected(code, message string) *TransitionOutcome {
	return &TransitionOutcome{Errors: []models.Finding{{Code: code, Message: message}}}
}

// ProposeTransition — полный конвейер перехода: структурная валидация,
// бизнес-правила, условная запись, побочные эффекты через доменные события.
func (s *Service) ProposeTransition(ctx context.Context, packageID uint64, target, actorRole, reason, location string) (*TransitionOutcome, error) {
	if packageID == 0 {
		return nil, errors.New("packageId is required")
	}
	if target == "" {
		return nil, errors.New("targetStatus is required")
	}

	p, err := s.repo.GetPackageByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return rejected(models.FindingPackageNotFound, fmt.Sprintf("package %d not found", packageID)), nil
	}

	history, err := s.repo.ListHistory(ctx, packageID, 500, 0)
	if err != nil {
		return nil, err
	}

	vres := s.validator.Validate(p.Status, target, actorRole, history)
	out := &TransitionOutcome{Errors: vres.Errors, Warnings: vres.Warnings}
	if !vres.OK() {
		return out, nil
	}

	// Идемпотентный no-op: статус уже целевой, журнал не дублируем.
	if p.Status == target {
		out.Accepted = true
		return out, nil
	}

	// Финальный переход охраняется кодом выдачи: без погашенного кода
	// delivered доступен только роли с правом override, штатный путь —
	// погашение кода на стойке.
	if target == models.PackageStatusDelivered && p.CodeRedeemedAt == nil && !s.validator.IsOverride(actorRole) {
		out.Errors = append(out.Errors, models.Finding{
			Code:    models.FindingDeliveryNotAuthorized,
			Message: "transition to \"delivered\" requires a redeemed delivery code or an override role",
		})
		return out, nil
	}

	od, err := s.analyzer.Analyze(p, history)
	if err != nil {
		return nil, err
	}

	var shipment *models.Shipment
	if p.ShipmentID != nil {
		shipment, err = s.repo.GetShipmentByID(ctx, *p.ShipmentID)
		if err != nil {
			return nil, err
		}
	}

	findings := s.engine.Evaluate(rules.Context{
		Package:      p,
		History:      history,
		Shipment:     shipment,
		ActorRole:    actorRole,
		TargetStatus: target,
		Overdue:      od,
	})
	out.Errors = append(out.Errors, findings.Errors...)
	out.Warnings = append(out.Warnings, findings.Warnings...)
	out.Suggestions = append(out.Suggestions, findings.Suggestions...)
	if len(out.Errors) > 0 {
		return out, nil
	}

	res, err := s.repo.ApplyTransition(ctx, pgware.TransitionUpdate{
		PackageID: packageID,
		From:      p.Status,
		To:        target,
		Actor:     actorRole,
		Reason:    reason,
		Location:  location,
	})
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		out.Errors = append(out.Errors, models.Finding{
			Code:    models.FindingStatusConflict,
			Message: "package status changed concurrently, re-read and retry",
		})
		return out, nil
	}
	out.Accepted = true

	s.invalidateCurrent(ctx, packageID)
	now := time.Now().UTC()
	s.publish(ctx, messages.TopicPackageStatusChanged, packageID, messages.PackageStatusChanged{
		PackageID: packageID, From: p.Status, To: target, Actor: actorRole, Reason: reason, OccurredAt: now,
	})

	switch target {
	case models.PackageStatusArrived:
		if s.issuer == nil {
			break
		}
		fresh, err := s.repo.GetPackageByID(ctx, packageID)
		if err != nil {
			return out, err
		}
		if fresh != nil {
			if err := s.issuer.Issue(ctx, fresh); err != nil {
				return out, errors.Wrap(err, "issue delivery code")
			}
		}
	case models.PackageStatusDelivered:
		s.publish(ctx, messages.TopicPackageDelivered, packageID, messages.PackageDelivered{
			PackageID: packageID, ShipmentID: res.ShipmentID, DeliveredAt: now,
		})
		if res.ShipmentPromoted && res.ShipmentID != nil {
			s.publish(ctx, messages.TopicShipmentDelivered, *res.ShipmentID, messages.ShipmentDelivered{
				ShipmentID: *res.ShipmentID, DeliveredAt: now,
			})
		}
	}

	return out, nil
}

// publish — fire-and-forget: доставка уведомлений не входит в транзакцию
// перехода и не может его откатить.
func (s *Service) publish(ctx context.Context, topic string, key uint64, msg any) {
	if s.producer == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = s.producer.Publish(ctx, topic, []byte(fmt.Sprintf("%d", key)), b)
}

func (s *Service) invalidateCurrent(ctx context.Context, packageID uint64) {
	if s.cache != nil && s.currentTTL > 0 {
		_ = s.cache.Del(ctx, cache.PackageCurrentKey(packageID))
	}
}
