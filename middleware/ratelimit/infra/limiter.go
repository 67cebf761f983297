package infra

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// minWait evita laço quente quando a espera calculada é de poucos nanos.
const minWait = time.Millisecond

// TokenLimiter é um token bucket seguro para uso concorrente.
//
// Todo o ciclo recarga -> checagem -> débito acontece sob mu. Acquire nunca
// dorme segurando mu: calcula a espera, solta o lock, dorme num timer do
// Clock e tenta de novo. Não há fila FIFO: quem acordar primeiro e pegar o
// lock leva o token, os demais recalculam a espera.
type TokenLimiter struct {
	clock domain.Clock

	mu       sync.Mutex
	b        bucket
	lastUsed time.Time

	inFlight atomic.Int64
}

type limiterOptions struct {
	clock   domain.Clock
	initial *float64
}

// LimiterOption ajusta a construção de um TokenLimiter.
type LimiterOption func(*limiterOptions)

// WithClock injeta o relógio (padrão SystemClock).
func WithClock(c domain.Clock) LimiterOption {
	return func(o *limiterOptions) { o.clock = c }
}

// WithInitialTokens define o saldo inicial (padrão: capacidade cheia).
func WithInitialTokens(v float64) LimiterOption {
	return func(o *limiterOptions) { o.initial = &v }
}

// NewLimiter cria um limiter com a capacidade e taxa (tokens/s) dadas.
// Configuração inválida falha aqui, nunca na aquisição.
func NewLimiter(capacity float64, refillRate rate.Limit, opts ...LimiterOption) (*TokenLimiter, error) {
	return NewLimiterFromConfig(domain.Config{Capacity: capacity, RefillRate: refillRate}, opts...)
}

// NewLimiterFromConfig é NewLimiter a partir de uma domain.Config.
func NewLimiterFromConfig(cfg domain.Config, opts ...LimiterOption) (*TokenLimiter, error) {
	o := limiterOptions{clock: SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.initial != nil {
		cfg = cfg.WithInitialTokens(*o.initial)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if o.clock == nil {
		o.clock = SystemClock{}
	}
	return newTokenLimiter(cfg, o.clock), nil
}

// newTokenLimiter assume cfg já validada.
func newTokenLimiter(cfg domain.Config, clock domain.Clock) *TokenLimiter {
	now := clock.Now()
	return &TokenLimiter{
		clock:    clock,
		b:        newBucket(cfg, now),
		lastUsed: now,
	}
}

// Allow é TryAcquire(1).
func (l *TokenLimiter) Allow() bool { return l.TryAcquire(1) }

// TryAcquire consome n tokens se houver saldo, sem bloquear.
// Em caso de negação nada é consumido. n <= 0 é sempre concedido; n NaN ou
// infinito é sempre negado.
func (l *TokenLimiter) TryAcquire(n float64) bool {
	return l.tryOrWait(n) == 0
}

// tryOrWait faz a tentativa atômica; devolve 0 se concedeu, senão a espera
// estimada calculada com o mesmo snapshot.
func (l *TokenLimiter) tryOrWait(n float64) time.Duration {
	if badAmount(n) {
		return maxWait
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.touchLocked(now)
	if n <= 0 {
		return 0
	}
	l.b.refill(now)
	if l.b.take(n) {
		return 0
	}
	return l.b.wait(n)
}

// Acquire espera até obter n tokens.
//
// timeout <= 0 significa sem timeout. Retorna OutcomeDenied se o timeout (ou
// o deadline do ctx) vencer antes, ou se n for maior que a capacidade;
// OutcomeCancelled se o ctx for cancelado. Nenhum dos dois consome tokens.
func (l *TokenLimiter) Acquire(ctx context.Context, n float64, timeout time.Duration) domain.Outcome {
	if badAmount(n) {
		return domain.OutcomeDenied
	}
	// capacidade é imutável, leitura sem lock é segura
	if n > l.b.capacity {
		l.touch(l.clock.Now())
		return domain.OutcomeDenied
	}

	l.inFlight.Add(1)
	defer l.inFlight.Add(-1)

	var deadline time.Time
	if timeout > 0 {
		deadline = l.clock.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			return outcomeFromContext(err)
		}

		wait := l.tryOrWait(n)
		if wait == 0 {
			return domain.OutcomeGranted
		}
		if !deadline.IsZero() {
			left := deadline.Sub(l.clock.Now())
			if left <= 0 {
				return domain.OutcomeDenied
			}
			if wait > left {
				wait = left
			}
		}
		if wait < minWait {
			wait = minWait
		}

		t := l.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return outcomeFromContext(ctx.Err())
		case <-t.C():
		}
	}
}

// AcquireWithin é Acquire sem ctx, reduzido a bool.
func (l *TokenLimiter) AcquireWithin(n float64, timeout time.Duration) bool {
	return l.Acquire(context.Background(), n, timeout).Granted()
}

// Wait espera por 1 token; retorna nil, domain.ErrDenied ou domain.ErrCancelled.
func (l *TokenLimiter) Wait(ctx context.Context) error {
	return l.Acquire(ctx, 1, 0).Err()
}

// WaitTime estima quanto falta para existirem n tokens. Não consome nada.
func (l *TokenLimiter) WaitTime(n float64) time.Duration {
	if badAmount(n) {
		return maxWait
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 {
		return 0
	}
	l.b.refill(now)
	return l.b.wait(n)
}

// Tokens devolve o saldo atual (após recarga).
func (l *TokenLimiter) Tokens() float64 {
	return l.Snapshot().Tokens
}

// Snapshot devolve o estado do bucket após recarga, mais as chamadas em andamento.
func (l *TokenLimiter) Snapshot() domain.BucketSnapshot {
	now := l.clock.Now()

	l.mu.Lock()
	l.b.refill(now)
	s := l.b.snapshot()
	l.mu.Unlock()

	s.InFlight = l.inFlight.Load()
	return s
}

// InFlight conta chamadas de Acquire em andamento (e usos fixados pelo Registry).
func (l *TokenLimiter) InFlight() int64 { return l.inFlight.Load() }

// Capacity é o máximo de tokens do bucket.
func (l *TokenLimiter) Capacity() float64 { return l.b.capacity }

func (l *TokenLimiter) touchLocked(now time.Time) {
	if now.After(l.lastUsed) {
		l.lastUsed = now
	}
}

func (l *TokenLimiter) touch(now time.Time) {
	l.mu.Lock()
	l.touchLocked(now)
	l.mu.Unlock()
}

// idleSince diz se o último uso é anterior a cutoff.
func (l *TokenLimiter) idleSince(cutoff time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed.Before(cutoff)
}

// badAmount: NaN passaria por todas as comparações e envenenaria o saldo.
func badAmount(n float64) bool {
	return math.IsNaN(n) || math.IsInf(n, 0)
}

func outcomeFromContext(err error) domain.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.OutcomeDenied
	}
	return domain.OutcomeCancelled
}
