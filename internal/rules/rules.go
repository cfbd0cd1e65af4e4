package rules

import (
	"sort"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/BearBump/WareBox/internal/overdue"
)

// Context — факты, против которых оцениваются бизнес-правила перехода.
// Правила не мутируют контекст и не зависят друг от друга.
type Context struct {
	Package      *models.Package
	History      []*models.StatusHistoryEntry
	Shipment     *models.Shipment
	ActorRole    string
	TargetStatus string
	Overdue      overdue.Result
}

// Findings — накопленные находки: ошибки блокируют переход,
// предупреждения и подсказки нет.
type Findings struct {
	Errors      []models.Finding `json:"errors"`
	Warnings    []models.Finding `json:"warnings"`
	Suggestions []models.Finding `json:"suggestions"`
}

func (f *Findings) merge(other Findings) {
	f.Errors = append(f.Errors, other.Errors...)
	f.Warnings = append(f.Warnings, other.Warnings...)
	f.Suggestions = append(f.Suggestions, other.Suggestions...)
}

// Rule — одно бизнес-правило. AppliesTo и Evaluate — чистые функции,
// чтобы правило можно было логировать и тестировать отдельно.
type Rule struct {
	ID        string
	Priority  int
	AppliesTo func(Context) bool
	Evaluate  func(Context) Findings
}

// Engine оценивает явно сконструированный набор правил в порядке убывания
// приоритета. Порядок влияет только на последовательность находок в отчёте,
// не на итог: правила независимы.
type Engine struct {
	rules []Rule
}

func NewEngine(set []Rule) *Engine {
	rules := make([]Rule, len(set))
	copy(rules, set)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
	return &Engine{rules: rules}
}

func (e *Engine) Evaluate(ctx Context) Findings {
	var out Findings
	for _, r := range e.rules {
		if r.AppliesTo != nil && !r.AppliesTo(ctx) {
			continue
		}
		if r.Evaluate == nil {
			continue
		}
		out.merge(r.Evaluate(ctx))
	}
	out.Errors = dedupe(out.Errors)
	out.Warnings = dedupe(out.Warnings)
	out.Suggestions = dedupe(out.Suggestions)
	return out
}

func dedupe(fs []models.Finding) []models.Finding {
	if len(fs) < 2 {
		return fs
	}
	seen := make(map[models.Finding]struct{}, len(fs))
	out := fs[:0]
	for _, f := range fs {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
