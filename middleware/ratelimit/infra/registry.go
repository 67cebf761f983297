package infra

import (
	"context"
	"log"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// Registry mantém um TokenLimiter por chave, criado no primeiro uso, com
// limpeza de chaves inativas.
//
// O mapa é dividido em shards (xxhash da chave); cada shard tem seu próprio
// lock, então chaves diferentes não disputam um lock global. A criação
// acontece sob o lock do shard: existe no máximo um limiter por chave.
type Registry struct {
	shards       []*registryShard
	defaultCfg   domain.Config
	clock        domain.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type registryShard struct {
	mu      sync.Mutex
	entries map[string]*TokenLimiter
}

type registryOptions struct {
	shards       int
	clock        domain.Clock
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type RegistryOption func(*registryOptions)

func WithIdleTTL(d time.Duration) RegistryOption {
	return func(o *registryOptions) { o.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) RegistryOption {
	return func(o *registryOptions) { o.cleanupEvery = d }
}

// WithShards define o número de shards do mapa (mínimo 1).
func WithShards(n int) RegistryOption {
	return func(o *registryOptions) { o.shards = n }
}

// WithRegistryClock define o relógio do registry e dos limiters que ele cria.
func WithRegistryClock(c domain.Clock) RegistryOption {
	return func(o *registryOptions) { o.clock = c }
}

func NewRegistry(defaultCfg domain.Config, opts ...RegistryOption) (*Registry, error) {
	if err := defaultCfg.Validate(); err != nil {
		return nil, err
	}

	o := registryOptions{
		shards:       32,
		clock:        SystemClock{},
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.shards < 1 {
		o.shards = 1
	}
	if o.clock == nil {
		o.clock = SystemClock{}
	}

	r := &Registry{
		shards:       make([]*registryShard, o.shards),
		defaultCfg:   defaultCfg,
		clock:        o.clock,
		idleTTL:      o.idleTTL,
		cleanupEvery: o.cleanupEvery,
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{entries: make(map[string]*TokenLimiter)}
	}
	return r, nil
}

func (r *Registry) RPS() float64                { return float64(r.defaultCfg.RefillRate) }
func (r *Registry) Burst() int                  { return int(r.defaultCfg.Capacity) }
func (r *Registry) CleanupEvery() time.Duration { return r.cleanupEvery }
func (r *Registry) IdleTTL() time.Duration      { return r.idleTTL }

func (r *Registry) shard(key string) *registryShard {
	return r.shards[xxhash.Sum64String(key)%uint64(len(r.shards))]
}

// Get implementa domain.LimiterStore.
func (r *Registry) Get(key domain.Key) domain.Limiter {
	return r.ForKey(string(key))
}

// ForKey devolve o limiter da chave, criando com a configuração padrão.
// O limiter devolvido não fica fixado: um EvictIdle antes do uso pode
// desligá-lo do registry. Quem precisa dessa garantia usa Registry.TryAcquire
// ou Registry.Acquire.
func (r *Registry) ForKey(key string) *TokenLimiter {
	lim, _ := r.getOrCreate(key, r.defaultCfg, false)
	return lim
}

// GetOrCreate devolve o limiter existente para key ou cria um com cfg.
// Se a chave já existe, cfg é ignorada. cfg inválida falha mesmo assim.
func (r *Registry) GetOrCreate(key string, cfg domain.Config) (*TokenLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return r.getOrCreate(key, cfg, false)
}

// getOrCreate opcionalmente fixa (pin) o limiter antes de soltar o lock do
// shard, para que EvictIdle não o remova entre a busca e o uso.
func (r *Registry) getOrCreate(key string, cfg domain.Config, pin bool) (*TokenLimiter, error) {
	now := r.clock.Now()
	s := r.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.entries[key]
	if !ok {
		lim = newTokenLimiter(cfg, r.clock)
		s.entries[key] = lim
	} else {
		lim.touch(now)
	}
	if pin {
		lim.inFlight.Add(1)
	}
	return lim, nil
}

// TryAcquire é ForKey(key).TryAcquire(n), com a entrada fixada durante a chamada.
func (r *Registry) TryAcquire(key string, n float64) bool {
	lim, _ := r.getOrCreate(key, r.defaultCfg, true)
	defer lim.inFlight.Add(-1)
	return lim.TryAcquire(n)
}

// Acquire é ForKey(key).Acquire(...), com a entrada fixada durante a espera.
func (r *Registry) Acquire(ctx context.Context, key string, n float64, timeout time.Duration) domain.Outcome {
	lim, _ := r.getOrCreate(key, r.defaultCfg, true)
	defer lim.inFlight.Add(-1)
	return lim.Acquire(ctx, n, timeout)
}

// Remove apaga a entrada incondicionalmente. Quem já tem o ponteiro continua
// usando o limiter antigo até terminar.
func (r *Registry) Remove(key string) bool {
	s := r.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

func (r *Registry) Size() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// EvictIdle remove entradas sem uso há mais de maxIdle e sem chamadas em
// andamento. Um limiter com Acquire suspenso nunca é removido.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.clock.Now().Add(-maxIdle)

	evicted := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for k, lim := range s.entries {
			if lim.inFlight.Load() > 0 {
				continue
			}
			if lim.idleSince(cutoff) {
				delete(s.entries, k)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

// Cleanup é EvictIdle com o idle TTL configurado.
func (r *Registry) Cleanup() int {
	return r.EvictIdle(r.idleTTL)
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (r *Registry) StartJanitor(ctx DoneContext) {
	if r.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(r.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := r.Cleanup(); n > 0 {
					log.Printf("ratelimit: evicted %d idle keys (remaining=%d)", n, r.Size())
				}
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context.
type DoneContext interface {
	Done() <-chan struct{}
}
