package messages

import "time"

// Топики доменных событий. Уведомления, печать квитанций и прочие внешние
// эффекты подписываются на них асинхронно и не участвуют в транзакции перехода.
const (
	TopicPackageStatusChanged = "package.status_changed"
	TopicDeliveryCodeIssued   = "package.delivery_code_issued"
	TopicPackageDelivered     = "package.delivered"
	TopicShipmentDelivered    = "shipment.delivered"
)

type PackageStatusChanged struct {
	PackageID  uint64    `json:"package_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeliveryCodeIssued несёт сам код: его доставляет клиенту внешний
// канал (email/SMS/WhatsApp), ядро код никому не показывает.
type DeliveryCodeIssued struct {
	PackageID  uint64    `json:"package_id"`
	CustomerID uint64    `json:"customer_id"`
	Code       string    `json:"code"`
	IssuedAt   time.Time `json:"issued_at"`
}

type PackageDelivered struct {
	PackageID   uint64    `json:"package_id"`
	ShipmentID  *uint64   `json:"shipment_id,omitempty"`
	StaffID     uint64    `json:"staff_id,omitempty"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type ShipmentDelivered struct {
	ShipmentID  uint64    `json:"shipment_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}
