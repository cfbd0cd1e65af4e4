package overdue

import (
	"fmt"
	"time"

	"github.com/BearBump/WareBox/internal/models"
	"github.com/BearBump/WareBox/internal/status"
)

// Result — итог анализа просрочки посылки в текущем статусе.
// HasHistory=false означает "нет данных": это не ошибка, решение
// оператора не должно блокироваться отсутствием журнала.
type Result struct {
	HasHistory            bool    `json:"hasHistory"`
	IsOverdue             bool    `json:"isOverdue"`
	ElapsedHours          float64 `json:"elapsedHours"`
	OverdueByHours        float64 `json:"overdueByHours"`
	RecommendedNextStatus string  `json:"recommendedNextStatus,omitempty"`
	Recommendation        string  `json:"recommendation,omitempty"`
}

type Analyzer struct {
	now func() time.Time
}

func New() *Analyzer {
	return NewWithClock(nil)
}

func NewWithClock(now func() time.Time) *Analyzer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Analyzer{now: now}
}

// Analyze сравнивает время нахождения в текущем статусе с ожидаемым из каталога.
// Берётся самая свежая запись журнала с текущим статусом.
func (a *Analyzer) Analyze(p *models.Package, history []*models.StatusHistoryEntry) (Result, error) {
	info, err := status.Describe(p.Status)
	if err != nil {
		return Result{}, err
	}

	entered, ok := lastEnteredAt(history, p.Status)
	if !ok {
		return Result{
			Recommendation: fmt.Sprintf("no history entry for status %q; assuming the package is on schedule", p.Status),
		}, nil
	}

	res := Result{
		HasHistory:   true,
		ElapsedHours: a.now().Sub(entered).Hours(),
	}

	if info.Terminal || info.ExpectedDurationHours <= 0 {
		res.Recommendation = "package is in a terminal status"
		return res, nil
	}

	if res.ElapsedHours > info.ExpectedDurationHours {
		res.IsOverdue = true
		res.OverdueByHours = res.ElapsedHours - info.ExpectedDurationHours
		if next, ok := status.Next(p.Status); ok {
			res.RecommendedNextStatus = next
			res.Recommendation = fmt.Sprintf(
				"package spent %.1fh in %q (expected %.1fh); consider moving it to %q",
				res.ElapsedHours, p.Status, info.ExpectedDurationHours, next)
		} else {
			res.Recommendation = fmt.Sprintf(
				"package spent %.1fh in %q (expected %.1fh)",
				res.ElapsedHours, p.Status, info.ExpectedDurationHours)
		}
		return res, nil
	}

	res.Recommendation = "package is on schedule"
	return res, nil
}

func lastEnteredAt(history []*models.StatusHistoryEntry, st string) (time.Time, bool) {
	var best time.Time
	found := false
	for _, h := range history {
		if h.Status != st {
			continue
		}
		if !found || h.CreatedAt.After(best) {
			best = h.CreatedAt
			found = true
		}
	}
	return best, found
}
