package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс проверки токена оператора.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Тип для ключей контекста (избегаем коллизий со string-ключами других пакетов)
type ctxKey string

const actorKey ctxKey = "actor"

// NewMiddleware закрывает защищенный периметр: без валидного RS256-токена — 401.
// Личность актора из claims прокидывается в контекст запроса.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			actor := domain.Actor{
				ID:   claims.OperatorID,
				Name: claims.Name,
				Role: claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// WithActor кладет актора в контекст (выделено для тестов хендлеров).
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext безопасно достает актора, положенного middleware.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}
