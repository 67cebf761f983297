package infra

import (
	"math"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// maxWait é o teto para esperas calculadas (evita overflow de time.Duration
// quando a taxa é praticamente zero).
const maxWait = time.Duration(math.MaxInt64)

// bucket é a máquina de estados de um token bucket. Não é segura para uso
// concorrente: quem a possui (TokenLimiter) serializa o acesso.
type bucket struct {
	capacity    float64
	rate        float64 // tokens por segundo
	tokens      float64
	last        time.Time
	regressions uint64
}

func newBucket(cfg domain.Config, now time.Time) bucket {
	return bucket{
		capacity: cfg.Capacity,
		rate:     float64(cfg.RefillRate),
		tokens:   cfg.Initial(),
		last:     now,
	}
}

// refill credita o tempo decorrido desde a última recarga.
//
// Chamar de novo com o mesmo now não muda nada. Se o relógio andou para trás,
// o decorrido conta como zero e last não recua; assim o trecho repetido não
// é creditado duas vezes quando o relógio voltar a avançar.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed < 0 {
		b.regressions++
		return
	}
	if elapsed == 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed.Seconds()*b.rate)
	b.last = now
}

// take consome n tokens se houver saldo; senão não mexe em nada.
func (b *bucket) take(n float64) bool {
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	if b.tokens < 0 {
		b.tokens = 0
	}
	return true
}

// wait estima quanto falta para existirem n tokens, a partir do saldo atual.
func (b *bucket) wait(n float64) time.Duration {
	if b.tokens >= n {
		return 0
	}
	if n > b.capacity {
		return maxWait
	}
	return secondsToDuration((n - b.tokens) / b.rate)
}

func (b *bucket) snapshot() domain.BucketSnapshot {
	return domain.BucketSnapshot{
		Tokens:           b.tokens,
		Capacity:         b.capacity,
		RefillRate:       b.rate,
		LastRefill:       b.last,
		ClockRegressions: b.regressions,
	}
}

// secondsToDuration arredonda para cima e satura em maxWait.
func secondsToDuration(s float64) time.Duration {
	ns := math.Ceil(s * float64(time.Second))
	if math.IsNaN(ns) || ns >= float64(math.MaxInt64) {
		return maxWait
	}
	if ns < 1 {
		return 1
	}
	return time.Duration(ns)
}
