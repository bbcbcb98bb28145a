package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/spf13/viper"
	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"go.uber.org/zap"
)

// RoleSet — неизменяемый снапшот RBAC-конфигурации. Читатели никогда не
// наблюдают «порванную» пару роль/разрешения: перезагрузка — это атомарная
// замена целого снапшота.
type RoleSet struct {
	// Roles: имя роли -> множество разрешений
	Roles map[string]map[domain.Permission]struct{}
	// Users: id актора -> имя роли
	Users map[string]string
	// DefaultRole назначается акторам без явной привязки
	DefaultRole string
	// RequireAuth=false — разрешительный режим (только для непродовых стендов)
	RequireAuth bool
	// Operators: username -> учетка для выдачи токенов
	Operators map[string]domain.Operator
}

// Enforcer решает allow/deny для пары (актор, действие). Hot Path работает
// только с памятью — детерминированная чистая функция текущего снапшота.
type Enforcer struct {
	snap   atomic.Pointer[RoleSet]
	path   string
	logger *zap.Logger
}

func NewEnforcer(path string, logger *zap.Logger) *Enforcer {
	e := &Enforcer{
		path:   path,
		logger: logger.Named("enforcer"),
	}
	// Пока снапшот не загружен — Zero Trust: пустой набор с требованием аутентификации
	e.snap.Store(&RoleSet{
		Roles:       map[string]map[domain.Permission]struct{}{},
		Users:       map[string]string{},
		RequireAuth: true,
		Operators:   map[string]domain.Operator{},
	})
	return e
}

// Reload выполняет «холодную загрузку» ролей из YAML и атомарно подменяет снапшот.
// Формат:
//
//	require_authentication: true
//	default_role: SOC_TIER1
//	roles:
//	  SOC_TIER1: {permissions: [status]}
//	  SOC_TIER2: {permissions: [status, isolate, collect, terminate, memory-capture]}
//	users:
//	  U123: {role: SOC_TIER2}
//	operators:
//	  alice: {id: U123, name: "Alice", password_hash: "$2a$...", role: SOC_TIER2}
func (e *Enforcer) Reload() error {
	v := viper.New()
	v.SetConfigFile(e.path)
	v.SetDefault("require_authentication", true)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("policy: read %s: %w", e.path, err)
	}

	var raw struct {
		RequireAuthentication bool   `mapstructure:"require_authentication"`
		DefaultRole           string `mapstructure:"default_role"`
		Roles                 map[string]struct {
			Permissions []string `mapstructure:"permissions"`
		} `mapstructure:"roles"`
		Users map[string]struct {
			Role string `mapstructure:"role"`
		} `mapstructure:"users"`
		Operators map[string]struct {
			ID           string `mapstructure:"id"`
			Name         string `mapstructure:"name"`
			PasswordHash string `mapstructure:"password_hash"`
			Role         string `mapstructure:"role"`
		} `mapstructure:"operators"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return fmt.Errorf("policy: decode %s: %w", e.path, err)
	}

	next := &RoleSet{
		Roles:       make(map[string]map[domain.Permission]struct{}, len(raw.Roles)),
		Users:       make(map[string]string, len(raw.Users)),
		DefaultRole: raw.DefaultRole,
		RequireAuth: raw.RequireAuthentication,
		Operators:   make(map[string]domain.Operator, len(raw.Operators)),
	}
	for name, role := range raw.Roles {
		perms := make(map[domain.Permission]struct{}, len(role.Permissions))
		for _, p := range role.Permissions {
			perms[domain.Permission(p)] = struct{}{}
		}
		next.Roles[name] = perms
	}
	for id, u := range raw.Users {
		next.Users[id] = u.Role
	}
	for username, op := range raw.Operators {
		next.Operators[username] = domain.Operator{
			ID:           op.ID,
			Username:     username,
			Name:         op.Name,
			PasswordHash: op.PasswordHash,
			Role:         op.Role,
		}
	}

	e.snap.Store(next)
	e.logger.Info("role set reloaded",
		zap.Int("roles", len(next.Roles)),
		zap.Int("users", len(next.Users)),
		zap.Bool("require_auth", next.RequireAuth))
	return nil
}

// Replace атомарно подставляет готовый снапшот (для тестов).
func (e *Enforcer) Replace(rs *RoleSet) {
	e.snap.Store(rs)
}

// RoleOf возвращает роль актора с учетом дефолтной.
func (e *Enforcer) RoleOf(actorID string) string {
	snap := e.snap.Load()
	if role, ok := snap.Users[actorID]; ok {
		return role
	}
	return snap.DefaultRole
}

// Authorize — fail-closed решение: Allow только если действие входит в
// множество разрешений роли актора. Разрешительный режим (RequireAuth=false)
// пропускает всё — явный выбор для непродовых конфигураций.
func (e *Enforcer) Authorize(actor domain.Actor, spec domain.ActionSpec) error {
	snap := e.snap.Load()

	if !snap.RequireAuth {
		return nil
	}

	role := actor.Role
	if role == "" {
		role = e.RoleOf(actor.ID)
	}

	perms, ok := snap.Roles[role]
	if !ok {
		// Неизвестная роль — жесткий запрет (Zero Trust)
		return &domain.AuthorizationError{ActorID: actor.ID, Role: role, Action: spec.Action}
	}
	if _, allowed := perms[spec.Permission]; !allowed {
		return &domain.AuthorizationError{ActorID: actor.ID, Role: role, Action: spec.Action}
	}
	return nil
}

// Operator ищет учетку оператора по username (для выдачи токена).
func (e *Enforcer) Operator(username string) (domain.Operator, bool) {
	snap := e.snap.Load()
	op, ok := snap.Operators[username]
	return op, ok
}
