package models

// Finding — результат проверки перехода: ошибка, предупреждение или подсказка.
type Finding struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Коды структурных проверок перехода.
const (
	FindingUnknownStatus          = "UnknownStatus"
	FindingTerminalStateViolation = "TerminalStateViolation"
	FindingStatusRegression       = "StatusRegression"
	FindingRepeatedStatus         = "RepeatedStatus"
	FindingPackageNotFound        = "PackageNotFound"
	FindingStatusConflict         = "StatusConflict"
	FindingDeliveryNotAuthorized  = "DeliveryNotAuthorized"
)

// Коды отказа при погашении кода выдачи. Каждая проверка
// самодостаточна для отказа; мутаций при отказе не происходит.
const (
	RedeemFailPackageNotFound = "PackageNotFound"
	RedeemFailInvalidState    = "InvalidState"
	RedeemFailCodeNotIssued   = "CodeNotIssued"
	RedeemFailCodeAlreadyUsed = "CodeAlreadyUsed"
	RedeemFailSuiteMismatch   = "SuiteMismatch"
	RedeemFailCodeMismatch    = "CodeMismatch"
	RedeemFailRateLimited     = "RateLimited"
)
