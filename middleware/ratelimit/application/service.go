package application

import (
	"context"
	"log"
	"math"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// Com MaxWait > 0 a requisição pode esperar até MaxWait por um token
// (Acquire limitado) em vez de ser negada na hora.
type Service struct {
	Store      domain.LimiterStore
	RetryAfter time.Duration
	MaxWait    time.Duration
	// Cost é quantos tokens cada decisão consome (padrão 1; NaN, infinito
	// ou <= 0 também viram 1).
	Cost float64
}

// tokenReporter é implementado por limiters que sabem informar o saldo.
type tokenReporter interface {
	Tokens() float64
}

// waitLog evita inundar o log quando muitas requisições esperam ao mesmo tempo.
var waitLog = &rate.Sometimes{Interval: 5 * time.Second}

func (s Service) Decide(ctx context.Context, key domain.Key) domain.Decision {
	if s.Store == nil {
		return domain.Decision{Allowed: true, Outcome: domain.OutcomeGranted, Remaining: -1}
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}
	if !(s.Cost > 0) || math.IsInf(s.Cost, 1) {
		s.Cost = 1
	}

	lim := s.Store.Get(key)
	if lim == nil {
		return domain.Decision{Allowed: true, Outcome: domain.OutcomeGranted, Remaining: -1}
	}

	out := domain.OutcomeDenied
	if lim.TryAcquire(s.Cost) {
		out = domain.OutcomeGranted
	} else if s.MaxWait > 0 {
		wait := lim.WaitTime(s.Cost)
		waitLog.Do(func() {
			log.Printf("ratelimit: limit reached for key=%q, waiting up to %s (estimated %s)", key, s.MaxWait, wait)
		})
		out = lim.Acquire(ctx, s.Cost, s.MaxWait)
	}

	dec := domain.Decision{
		Allowed:   out.Granted(),
		Outcome:   out,
		Remaining: remaining(lim),
	}
	if out == domain.OutcomeDenied {
		dec.RetryAfter = s.retryAfter(lim)
	}
	return dec
}

// retryAfter usa a estimativa do limiter; sem estimativa útil, cai no padrão.
func (s Service) retryAfter(lim domain.Limiter) time.Duration {
	wait := lim.WaitTime(s.Cost)
	if wait <= 0 || wait == time.Duration(math.MaxInt64) {
		return s.RetryAfter
	}
	return wait
}

func remaining(lim domain.Limiter) int64 {
	tr, ok := lim.(tokenReporter)
	if !ok {
		return -1
	}
	return int64(math.Floor(tr.Tokens()))
}
