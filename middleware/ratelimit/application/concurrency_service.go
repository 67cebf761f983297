package application

import (
	"context"
	"errors"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
//   - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
//   - Se `AcquireTimeout > 0`, espera até o timeout.
//
// Retorna (release, outcome). Fora de OutcomeGranted release é nil; timeout
// vira OutcomeDenied e cancelamento do chamador vira OutcomeCancelled.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), domain.Outcome) {
	if s.Pool == nil {
		return func() {}, domain.OutcomeGranted
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, domain.OutcomeGranted
	}
	// o ctx do chamador tem prioridade: se ele foi cancelado, não é timeout nosso
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, domain.OutcomeCancelled
	}
	return nil, domain.OutcomeDenied
}
