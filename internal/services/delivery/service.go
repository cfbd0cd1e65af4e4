package delivery

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/BearBump/WareBox/internal/broker/messages"
	"github.com/BearBump/WareBox/internal/cache"
	"github.com/BearBump/WareBox/internal/models"
	"github.com/BearBump/WareBox/internal/storage/pgware"
	"github.com/pkg/errors"
)

type Repository interface {
	IssueDeliveryCode(ctx context.Context, packageID uint64, code string) (bool, error)
	RedeemDeliveryCode(ctx context.Context, upd pgware.RedeemUpdate) (pgware.RedeemResult, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Limiter ограничивает частоту попыток погашения по посылке.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo     Repository
	producer Producer
	cache    cache.BytesCache

	limiter     Limiter
	redeemLimit int64
	redeemWin   time.Duration
}

func New(repo Repository, producer Producer, limiter Limiter, redeemLimit int64, redeemWindow time.Duration) *Service {
	return &Service{
		repo:        repo,
		producer:    producer,
		limiter:     limiter,
		redeemLimit: redeemLimit,
		redeemWin:   redeemWindow,
	}
}

// WithCache подключает кэш текущего состояния посылки: выдача и погашение
// кода меняют посылку и обязаны сбрасывать её ключ.
func (s *Service) WithCache(c cache.BytesCache) *Service {
	s.cache = c
	return s
}

// Issue выдаёт посылке одноразовый шестизначный код. Повторный вызов для
// посылки с уже выданным кодом ничего не меняет и события не публикует.
func (s *Service) Issue(ctx context.Context, p *models.Package) error {
	if p == nil {
		return errors.New("package is nil")
	}

	code, err := generateCode()
	if err != nil {
		return err
	}

	stored, err := s.repo.IssueDeliveryCode(ctx, p.ID, code)
	if err != nil {
		return err
	}
	if !stored {
		return nil
	}

	s.invalidateCurrent(ctx, p.ID)
	s.publish(ctx, messages.TopicDeliveryCodeIssued, p.ID, messages.DeliveryCodeIssued{
		PackageID:  p.ID,
		CustomerID: p.CustomerID,
		Code:       code,
		IssuedAt:   time.Now().UTC(),
	})
	return nil
}

// RedeemOutcome — результат попытки погашения. Отказ по бизнес-причине не
// является ошибкой транспорта: err здесь только для инфраструктурных сбоев.
type RedeemOutcome struct {
	Verified    bool   `json:"verified"`
	FailureCode string `json:"failure_code,omitempty"`
	Message     string `json:"message"`
}

func (s *Service) Redeem(ctx context.Context, upd pgware.RedeemUpdate) (*RedeemOutcome, error) {
	if upd.PackageID == 0 {
		return nil, errors.New("packageId is required")
	}
	if upd.Code == "" {
		return nil, errors.New("code is required")
	}

	if s.limiter != nil && s.redeemLimit > 0 {
		allowed, _, err := s.limiter.Allow(ctx, redeemKey(upd.PackageID), s.redeemLimit, s.redeemWin)
		if err == nil && !allowed {
			return &RedeemOutcome{
				FailureCode: models.RedeemFailRateLimited,
				Message:     failureMessage(models.RedeemFailRateLimited),
			}, nil
		}
		// При недоступном redis погашение продолжаем: лимитер вспомогательный.
	}

	res, err := s.repo.RedeemDeliveryCode(ctx, upd)
	if err != nil {
		return nil, err
	}
	if !res.Verified {
		return &RedeemOutcome{
			FailureCode: res.FailureCode,
			Message:     failureMessage(res.FailureCode),
		}, nil
	}

	s.invalidateCurrent(ctx, upd.PackageID)
	now := time.Now().UTC()
	s.publish(ctx, messages.TopicPackageDelivered, upd.PackageID, messages.PackageDelivered{
		PackageID:   upd.PackageID,
		ShipmentID:  res.ShipmentID,
		StaffID:     upd.StaffID,
		DeliveredAt: now,
	})
	if res.ShipmentPromoted && res.ShipmentID != nil {
		s.publish(ctx, messages.TopicShipmentDelivered, *res.ShipmentID, messages.ShipmentDelivered{
			ShipmentID:  *res.ShipmentID,
			DeliveredAt: now,
		})
	}

	return &RedeemOutcome{Verified: true, Message: "package released to customer"}, nil
}

// failureMessage — человекочитаемая причина для стойки выдачи.
func failureMessage(code string) string {
	switch code {
	case models.RedeemFailPackageNotFound:
		return "package not found"
	case models.RedeemFailInvalidState:
		return "package is not awaiting pickup"
	case models.RedeemFailCodeNotIssued:
		return "delivery code has not been issued for this package"
	case models.RedeemFailCodeAlreadyUsed:
		return "delivery code was already used"
	case models.RedeemFailSuiteMismatch:
		return "suite number does not match the package owner"
	case models.RedeemFailCodeMismatch:
		return "delivery code is incorrect"
	case models.RedeemFailRateLimited:
		return "too many attempts, try again later"
	}
	return "redemption rejected"
}

// generateCode — криптослучайные шесть цифр, ведущие нули сохраняются.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", errors.Wrap(err, "generate delivery code")
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
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

func (s *Service) invalidateCurrent(ctx context.Context, packageID uint64) {
	if s.cache != nil {
		_ = s.cache.Del(ctx, cache.PackageCurrentKey(packageID))
	}
}

func redeemKey(packageID uint64) string {
	return fmt.Sprintf("redeem:%d", packageID)
}
