package service

import (
	"context"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/domain"
	"github.com/xela07ax/soc-response-gateway/internal/engine"
)

// ResponseService — тонкая прослойка между HTTP-хендлером и ядром пайплайна:
// собирает InvocationRequest из входа командной поверхности.
type ResponseService struct {
	core *engine.Core
}

func NewResponseService(core *engine.Core) *ResponseService {
	return &ResponseService{core: core}
}

// Execute запускает действие от имени актора. Личность берется из токена,
// а не из тела запроса — подменить актора нельзя.
func (s *ResponseService) Execute(ctx context.Context, actor domain.Actor, actionTag, target string, args map[string]any, timeoutSec int) domain.InvocationResult {
	var timeout time.Duration
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	}

	return s.core.Execute(ctx, domain.InvocationRequest{
		Actor:    actor,
		Action:   domain.Action(actionTag),
		TargetID: target,
		Args:     args,
		Timeout:  timeout,
	})
}
