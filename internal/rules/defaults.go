package rules

import (
	"fmt"

	"github.com/BearBump/WareBox/internal/models"
)

// Коды находок бизнес-правил.
const (
	FindingPriorityProcessing  = "PriorityProcessing"
	FindingExpediteRequired    = "ExpediteRequired"
	FindingFragileHandling     = "FragileHandling"
	FindingTemperatureHandling = "TemperatureHandling"
)

// Порог времени в статусе для эскалации высокоприоритетных посылок.
const expediteAfterHours = 6

// DefaultRuleSet — стандартный набор правил склада. Набор передаётся в
// движок при конструировании и может подменяться в тестах целиком.
func DefaultRuleSet() []Rule {
	return []Rule{
		{
			ID:       "premium-priority-processing",
			Priority: 90,
			AppliesTo: func(ctx Context) bool {
				if ctx.Package == nil || ctx.Package.Status != models.PackageStatusPending {
					return false
				}
				tier := ctx.Package.CustomerTier
				return tier == models.CustomerTierPremium || tier == models.CustomerTierEnterprise
			},
			Evaluate: func(ctx Context) Findings {
				return Findings{Suggestions: []models.Finding{{
					Code: FindingPriorityProcessing,
					Message: fmt.Sprintf("customer tier is %q: process this package ahead of the standard queue",
						ctx.Package.CustomerTier),
				}}}
			},
		},
		{
			ID:       "high-priority-expedite",
			Priority: 80,
			AppliesTo: func(ctx Context) bool {
				if ctx.Package == nil || ctx.Package.Priority != models.PriorityHigh {
					return false
				}
				return ctx.Overdue.IsOverdue && ctx.Overdue.ElapsedHours > expediteAfterHours
			},
			Evaluate: func(ctx Context) Findings {
				return Findings{Warnings: []models.Finding{{
					Code: FindingExpediteRequired,
					Message: fmt.Sprintf("high-priority package is overdue by %.1fh in %q: expedite",
						ctx.Overdue.OverdueByHours, ctx.Package.Status),
				}}}
			},
		},
		{
			ID:       "fragile-in-transit",
			Priority: 70,
			AppliesTo: func(ctx Context) bool {
				return ctx.Package != nil &&
					ctx.Package.HasTag(models.HandlingFragile) &&
					ctx.TargetStatus == models.PackageStatusInTransit
			},
			Evaluate: func(Context) Findings {
				return Findings{Warnings: []models.Finding{{
					Code:    FindingFragileHandling,
					Message: "fragile package entering transit: verify protective packaging",
				}}}
			},
		},
		{
			ID:       "temperature-sensitive-dispatch",
			Priority: 70,
			AppliesTo: func(ctx Context) bool {
				return ctx.Package != nil &&
					ctx.Package.HasTag(models.HandlingTemperatureSensitive) &&
					ctx.TargetStatus == models.PackageStatusDispatched
			},
			Evaluate: func(Context) Findings {
				return Findings{Warnings: []models.Finding{{
					Code:    FindingTemperatureHandling,
					Message: "temperature-sensitive package being dispatched: confirm cold chain",
				}}}
			},
		},
	}
}
