package status

import (
	"fmt"

	"github.com/BearBump/WareBox/internal/models"
)

// Validator проверяет структурную допустимость перехода current -> target.
// Бизнес-правила (приоритеты, SLA, особое обращение) живут в internal/rules.
type Validator struct {
	overrideRoles map[string]struct{}
}

// NewValidator создаёт валидатор. overrideRoles — роли, которым разрешено
// выводить посылку из терминального статуса (точка расширения для
// административного отката; по умолчанию пусто).
func NewValidator(overrideRoles ...string) *Validator {
	m := make(map[string]struct{}, len(overrideRoles))
	for _, r := range overrideRoles {
		m[r] = struct{}{}
	}
	return &Validator{overrideRoles: m}
}

type ValidationResult struct {
	Errors   []models.Finding
	Warnings []models.Finding
}

func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Validate проверяет переход. История нужна для предупреждения о повторном
// входе в уже пройденный статус. Ошибки блокируют переход, предупреждения нет.
func (v *Validator) Validate(current, target, actorRole string, history []*models.StatusHistoryEntry) ValidationResult {
	var res ValidationResult

	targetInfo, err := Describe(target)
	if err != nil {
		res.Errors = append(res.Errors, models.Finding{
			Code:    models.FindingUnknownStatus,
			Message: fmt.Sprintf("status %q is not in the catalog", target),
		})
		return res
	}
	currentInfo, err := Describe(current)
	if err != nil {
		res.Errors = append(res.Errors, models.Finding{
			Code:    models.FindingUnknownStatus,
			Message: fmt.Sprintf("status %q is not in the catalog", current),
		})
		return res
	}

	// Повтор терминального статуса — идемпотентный no-op, без находок.
	if current == target {
		return res
	}

	if currentInfo.Terminal && !v.IsOverride(actorRole) {
		res.Errors = append(res.Errors, models.Finding{
			Code:    models.FindingTerminalStateViolation,
			Message: fmt.Sprintf("package is in terminal status %q", current),
		})
		return res
	}

	if targetInfo.Order < currentInfo.Order {
		res.Warnings = append(res.Warnings, models.Finding{
			Code:    models.FindingStatusRegression,
			Message: fmt.Sprintf("transition %s -> %s moves backwards", current, target),
		})
	}

	if !targetInfo.Terminal && inHistory(history, target) {
		res.Warnings = append(res.Warnings, models.Finding{
			Code:    models.FindingRepeatedStatus,
			Message: fmt.Sprintf("status %q was already visited", target),
		})
	}

	return res
}

// IsOverride сообщает, есть ли у роли право административного override.
func (v *Validator) IsOverride(role string) bool {
	_, ok := v.overrideRoles[role]
	return ok
}

func inHistory(history []*models.StatusHistoryEntry, status string) bool {
	for _, h := range history {
		if h.Status == status {
			return true
		}
	}
	return false
}
