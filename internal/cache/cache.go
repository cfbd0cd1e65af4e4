package cache

import (
	"context"
	"fmt"
	"time"
)

// BytesCache — best-effort кэш: отсутствие или ошибка кэша никогда
// не должны ломать основной путь.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// PackageCurrentKey — ключ кэша текущего состояния посылки. Пишет его
// сервис посылок; инвалидировать обязан каждый мутирующий путь
// (переход, погашение кода, группировка).
func PackageCurrentKey(id uint64) string {
	return fmt.Sprintf("package:%d:current", id)
}
