package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/WareBox/internal/broker/messages"
	"github.com/BearBump/WareBox/internal/cache"
	"github.com/BearBump/WareBox/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateShipment(ctx context.Context, packageIDs []uint64) (*models.Shipment, error)
	GetShipmentByID(ctx context.Context, id uint64) (*models.Shipment, error)
	PromoteShipmentIfComplete(ctx context.Context, shipmentID uint64) (bool, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo     Repository
	producer Producer
	cache    cache.BytesCache
}

func New(repo Repository, producer Producer) *Service {
	return &Service{repo: repo, producer: producer}
}

// WithCache подключает кэш текущего состояния посылки: группировка меняет
// статус и shipmentId каждой посылки, их ключи надо сбрасывать.
func (s *Service) WithCache(c cache.BytesCache) *Service {
	s.cache = c
	return s
}

// Create группирует посылки в отправление. Дубликаты в списке схлопываются,
// остальная валидация (статусы, принадлежность) выполняется в транзакции.
func (s *Service) Create(ctx context.Context, packageIDs []uint64) (*models.Shipment, error) {
	if len(packageIDs) == 0 {
		return nil, errors.New("packageIds is empty")
	}
	if len(packageIDs) > 1_000 {
		return nil, errors.New("too many packages (max 1000)")
	}

	seen := make(map[uint64]struct{}, len(packageIDs))
	ids := make([]uint64, 0, len(packageIDs))
	for _, id := range packageIDs {
		if id == 0 {
			return nil, errors.New("packageId must be positive")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	sh, err := s.repo.CreateShipment(ctx, ids)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		for _, id := range ids {
			_ = s.cache.Del(ctx, cache.PackageCurrentKey(id))
		}
	}
	return sh, nil
}

func (s *Service) GetByID(ctx context.Context, id uint64) (*models.Shipment, error) {
	if id == 0 {
		return nil, errors.New("shipmentId is required")
	}
	return s.repo.GetShipmentByID(ctx, id)
}

// Reconcile сверяет агрегатный статус отправления с посылками и при
// необходимости продвигает его в delivered. Идемпотентна.
func (s *Service) Reconcile(ctx context.Context, shipmentID uint64) (bool, error) {
	if shipmentID == 0 {
		return false, errors.New("shipmentId is required")
	}

	promoted, err := s.repo.PromoteShipmentIfComplete(ctx, shipmentID)
	if err != nil {
		return false, err
	}
	if promoted {
		s.publish(ctx, messages.TopicShipmentDelivered, shipmentID, messages.ShipmentDelivered{
			ShipmentID:  shipmentID,
			DeliveredAt: time.Now().UTC(),
		})
	}
	return promoted, nil
}

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
