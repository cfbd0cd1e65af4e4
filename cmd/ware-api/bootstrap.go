package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/WareBox/config"
	warehouseapi "github.com/BearBump/WareBox/internal/api/warehouse_api"
	"github.com/BearBump/WareBox/internal/broker/kafka"
	"github.com/BearBump/WareBox/internal/cache/rediscache"
	"github.com/BearBump/WareBox/internal/overdue"
	"github.com/BearBump/WareBox/internal/rules"
	"github.com/BearBump/WareBox/internal/services/delivery"
	"github.com/BearBump/WareBox/internal/services/packages"
	"github.com/BearBump/WareBox/internal/services/shipments"
	"github.com/BearBump/WareBox/internal/status"
	"github.com/BearBump/WareBox/internal/storage/pgware"
)

type wareAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    wareAPIOpts
	api     *warehouseapi.WarehouseAPI
	closeDB func()
}

func mustBootstrapWareAPI() *wareAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.WareBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	cacheTTL := time.Duration(cfg.WareBox.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	redeemLimit := int64(cfg.WareBox.RedeemRateLimitPerMinute)
	if redeemLimit <= 0 {
		redeemLimit = 5
	}

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	delSvc := delivery.New(st, producer, rl, redeemLimit, time.Minute).WithCache(rc)
	pkgSvc := packages.New(st, delSvc, producer, rc, cacheTTL,
		status.NewValidator(cfg.WareBox.OverrideRoles...),
		rules.NewEngine(rules.DefaultRuleSet()),
		overdue.New())
	shipSvc := shipments.New(st, producer).WithCache(rc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &wareAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: wareAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:     warehouseapi.New(pkgSvc, shipSvc, delSvc),
		closeDB: st.Close,
	}
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgware.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgware.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *wareAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *wareAPIApp) Run() error {
	return runWareAPI(a.ctx, a.opts, a.api)
}
