package status

import (
	"github.com/BearBump/WareBox/internal/models"
	"github.com/pkg/errors"
)

// ErrUnknownStatus возвращается для любого значения вне каталога.
var ErrUnknownStatus = errors.New("unknown status")

// Info — статические свойства статуса из каталога.
type Info struct {
	Order                 int
	Terminal              bool
	CustomerVisible       bool
	ExpectedDurationHours float64
}

// Каталог фиксированный: порядок задаёт прямое направление жизненного цикла.
// ExpectedDurationHours — ожидаемое время нахождения посылки в статусе,
// используется анализатором просрочки.
var catalog = map[string]Info{
	models.PackageStatusPending:          {Order: 0, CustomerVisible: true, ExpectedDurationHours: 24},
	models.PackageStatusProcessing:       {Order: 1, CustomerVisible: true, ExpectedDurationHours: 24},
	models.PackageStatusReadyForGrouping: {Order: 2, CustomerVisible: false, ExpectedDurationHours: 48},
	models.PackageStatusGrouped:          {Order: 3, CustomerVisible: false, ExpectedDurationHours: 24},
	models.PackageStatusGroupConfirmed:   {Order: 4, CustomerVisible: false, ExpectedDurationHours: 12},
	models.PackageStatusDispatched:       {Order: 5, CustomerVisible: true, ExpectedDurationHours: 4},
	models.PackageStatusInTransit:        {Order: 6, CustomerVisible: true, ExpectedDurationHours: 120},
	models.PackageStatusOutForDelivery:   {Order: 7, CustomerVisible: true, ExpectedDurationHours: 12},
	models.PackageStatusArrived:          {Order: 8, CustomerVisible: true, ExpectedDurationHours: 72},
	models.PackageStatusDelivered:        {Order: 9, Terminal: true, CustomerVisible: true},
}

var ordered = func() []string {
	out := make([]string, len(catalog))
	for s, info := range catalog {
		out[info.Order] = s
	}
	return out
}()

// Describe возвращает свойства статуса или ErrUnknownStatus.
func Describe(s string) (Info, error) {
	info, ok := catalog[s]
	if !ok {
		return Info{}, errors.Wrap(ErrUnknownStatus, s)
	}
	return info, nil
}

func Known(s string) bool {
	_, ok := catalog[s]
	return ok
}

// All возвращает статусы в порядке жизненного цикла.
func All() []string {
	out := make([]string, len(ordered))
	copy(out, ordered)
	return out
}

// Next возвращает следующий по порядку статус и false для терминального.
func Next(s string) (string, bool) {
	info, ok := catalog[s]
	if !ok || info.Order+1 >= len(ordered) {
		return "", false
	}
	return ordered[info.Order+1], true
}
