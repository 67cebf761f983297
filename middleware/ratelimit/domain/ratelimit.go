package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

type Key string

var (
	// ErrInvalidConfiguration é retornado na construção quando capacidade ou
	// taxa de recarga não são positivas. Nunca aparece em tempo de aquisição.
	ErrInvalidConfiguration = errors.New("ratelimit: invalid configuration")

	// ErrDenied e ErrCancelled são as versões em erro de OutcomeDenied e
	// OutcomeCancelled, para quem prefere fluxo com error (ex: Wait).
	ErrDenied    = errors.New("ratelimit: denied")
	ErrCancelled = errors.New("ratelimit: cancelled")
)

// Outcome é o resultado de uma tentativa de aquisição.
// Negar é o comportamento normal sob carga, por isso é um valor e não um erro.
type Outcome uint8

const (
	OutcomeGranted Outcome = iota
	// OutcomeDenied: tokens insuficientes antes do prazo (ou pedido maior que a capacidade).
	OutcomeDenied
	// OutcomeCancelled: o chamador desistiu (ctx cancelado) enquanto esperava.
	OutcomeCancelled
)

func (o Outcome) Granted() bool { return o == OutcomeGranted }

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeDenied:
		return "denied"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Err converte o Outcome em nil, ErrDenied ou ErrCancelled.
func (o Outcome) Err() error {
	switch o {
	case OutcomeGranted:
		return nil
	case OutcomeCancelled:
		return ErrCancelled
	default:
		return ErrDenied
	}
}

// Limiter representa um token bucket que pode admitir, negar ou segurar uma ação.
//
// TryAcquire nunca bloqueia. Acquire bloqueia até conseguir os tokens, até o
// timeout (<= 0 significa sem timeout) ou até o ctx encerrar.
// WaitTime é só uma estimativa (não consome nada), útil para Retry-After.
type Limiter interface {
	TryAcquire(n float64) bool
	Acquire(ctx context.Context, n float64, timeout time.Duration) Outcome
	WaitTime(n float64) time.Duration
}

// LimiterStore obtém um limiter por chave (ex: IP, API key, usuário).
// A implementação pode manter cache, TTL, etc.
type LimiterStore interface {
	Get(Key) Limiter
}

type Decision struct {
	Allowed bool
	Outcome Outcome
	// Remaining é a quantidade de tokens inteiros restantes após a decisão,
	// ou -1 quando o store não sabe informar.
	Remaining int64
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
