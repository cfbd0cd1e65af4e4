package models

import "time"

// Статусы отправления. Инвариант: delivered тогда и только тогда,
// когда каждая посылка отправления доставлена; назад не откатывается.
const (
	ShipmentStatusForming   = "forming"
	ShipmentStatusDelivered = "delivered"
)

type Shipment struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`

	// Денормализованное количество посылок для быстрой сверки при промоушене.
	TotalPackages int32 `json:"totalPackages"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
