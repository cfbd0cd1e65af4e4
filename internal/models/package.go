package models

import "time"

// Статусы посылки. Порядок жизненного цикла задаётся каталогом (internal/status).
const (
	PackageStatusPending          = "pending"
	PackageStatusProcessing       = "processing"
	PackageStatusReadyForGrouping = "ready_for_grouping"
	PackageStatusGrouped          = "grouped"
	PackageStatusGroupConfirmed   = "group_confirmed"
	PackageStatusDispatched       = "dispatched"
	PackageStatusInTransit        = "in_transit"
	PackageStatusOutForDelivery   = "out_for_delivery"
	PackageStatusArrived          = "arrived"
	PackageStatusDelivered        = "delivered"
)

// Приоритет обработки посылки.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Тариф клиента.
const (
	CustomerTierStandard   = "standard"
	CustomerTierPremium    = "premium"
	CustomerTierEnterprise = "enterprise"
)

// Теги особого обращения.
const (
	HandlingFragile              = "fragile"
	HandlingTemperatureSensitive = "temperature_sensitive"
)

type Package struct {
	ID            uint64   `json:"id"`
	CustomerID    uint64   `json:"customerId"`
	CustomerSuite string   `json:"customerSuite"`
	CustomerTier  string   `json:"customerTier"`
	Priority      string   `json:"priority"`
	HandlingTags  []string `json:"handlingTags"`
	Status        string   `json:"status"`
	ShipmentID    *uint64  `json:"shipmentId,omitempty"`

	// Код выдачи: не NULL только начиная со статуса arrived.
	// CodeRedeemedAt не NULL означает, что код погашен и посылка доставлена.
	// Сам код наружу не отдаём: клиент получает его по внешнему каналу.
	DeliveryCode   *string    `json:"-"`
	CodeIssuedAt   *time.Time `json:"codeIssuedAt,omitempty"`
	CodeRedeemedAt *time.Time `json:"codeRedeemedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (p *Package) HasTag(tag string) bool {
	for _, t := range p.HandlingTags {
		if t == tag {
			return true
		}
	}
	return false
}

// StatusHistoryEntry — запись журнала переходов, append-only.
type StatusHistoryEntry struct {
	ID        uint64    `json:"id"`
	PackageID uint64    `json:"packageId"`
	Status    string    `json:"status"`
	Actor     string    `json:"actor,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type PackageCreateInput struct {
	CustomerID    uint64   `json:"customerId"`
	CustomerSuite string   `json:"customerSuite"`
	CustomerTier  string   `json:"customerTier"`
	Priority      string   `json:"priority"`
	HandlingTags  []string `json:"handlingTags"`
}
