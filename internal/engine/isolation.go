package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/soc-response-gateway/internal/infra"
	"go.uber.org/zap"
)

// IsolationManager держит потокобезопасный локальный кэш (L1) имен целей,
// находящихся в сетевой изоляции, и синхронизирует его между инстансами
// через Redis (Set — состояние, Pub/Sub — сигналы в реальном времени).
// Без Redis (rdb == nil) менеджер работает в локальном режиме.
type IsolationManager struct {
	mu       sync.RWMutex
	isolated map[string]struct{}
	rdb      *redis.Client
	logger   *zap.Logger
}

func NewIsolationManager(rdb *redis.Client, logger *zap.Logger) *IsolationManager {
	return &IsolationManager{
		isolated: make(map[string]struct{}),
		rdb:      rdb,
		logger:   logger.Named("isolation"),
	}
}

// Init прогревает локальный кэш из Redis при старте сервиса.
func (m *IsolationManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}
	targets, err := m.rdb.SMembers(ctx, infra.RedisKeyIsolatedHosts).Result()
	if err != nil {
		return fmt.Errorf("isolation warmup: %w", err)
	}
	return WarmupState(ctx, m.rdb, m.logger, targets,
		infra.RedisKeyIsolatedHosts, infra.RedisKeyLockIsolated,
		m.replace)
}

// StartListener подписывается на сигналы изоляции и держит кэш свежим.
// Формат сигнала: "target:on" / "target:off".
func (m *IsolationManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanIsolation,
		func() error { return m.Init(ctx) },
		func(target string, on bool) {
			if on {
				m.mark(target)
			} else {
				m.clear(target)
			}
		})
}

// IsIsolated — Hot Path: только RAM.
func (m *IsolationManager) IsIsolated(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.isolated[target]
	return ok
}

// List возвращает снапшот изолированных целей.
func (m *IsolationManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.isolated))
	for t := range m.isolated {
		out = append(out, t)
	}
	return out
}

// MarkIsolated фиксирует успешную изоляцию: локальный кэш + Redis Set + сигнал.
// Сбой трансляции не отменяет локальное состояние — изоляция уже состоялась.
func (m *IsolationManager) MarkIsolated(ctx context.Context, target string) {
	m.mark(target)
	m.broadcast(ctx, target, "on", func() error {
		return m.rdb.SAdd(ctx, infra.RedisKeyIsolatedHosts, target).Err()
	})
}

// ClearIsolated фиксирует снятие изоляции.
func (m *IsolationManager) ClearIsolated(ctx context.Context, target string) {
	m.clear(target)
	m.broadcast(ctx, target, "off", func() error {
		return m.rdb.SRem(ctx, infra.RedisKeyIsolatedHosts, target).Err()
	})
}

func (m *IsolationManager) broadcast(ctx context.Context, target, signal string, persist func() error) {
	if m.rdb == nil {
		return
	}
	if err := persist(); err != nil {
		m.logger.Warn("isolation state persist failed",
			zap.String("target", target), zap.Error(err))
	}
	payload := fmt.Sprintf("%s:%s", target, signal)
	if err := m.rdb.Publish(ctx, infra.RedisChanIsolation, payload).Err(); err != nil {
		m.logger.Warn("isolation signal delivery failed",
			zap.String("target", target), zap.Error(err))
	}
}

func (m *IsolationManager) mark(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isolated[target] = struct{}{}
}

func (m *IsolationManager) clear(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.isolated, target)
}

// replace подменяет кэш целиком (callback прогрева).
func (m *IsolationManager) replace(targets []string) {
	next := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		next[t] = struct{}{}
	}
	m.mu.Lock()
	m.isolated = next
	m.mu.Unlock()
}
