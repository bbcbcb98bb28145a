package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "srg"
)

// Ключи для Sets (состояние)
const (
	// RedisKeyIsolatedHosts — множество имен целей, находящихся в сетевой изоляции.
	RedisKeyIsolatedHosts = RedisNamespace + ":targets:isolated_set"
	RedisKeyLockIsolated  = RedisNamespace + ":lock:warmup:isolated"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanIsolation — сигналы изменения изоляции: "target:on" / "target:off".
	RedisChanIsolation = RedisNamespace + ":targets:isolation-signal"
)
