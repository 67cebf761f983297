package domain

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Config descreve um token bucket.
//
// RefillRate é em tokens por segundo (rate.Limit). InitialTokens nil significa
// começar cheio (= Capacity).
type Config struct {
	Capacity      float64
	RefillRate    rate.Limit
	InitialTokens *float64
}

// PerWindow monta a configuração clássica "n requisições por janela":
// capacidade n e recarga contínua de n/janela tokens por segundo.
func PerWindow(n float64, window time.Duration) Config {
	return Config{
		Capacity:   n,
		RefillRate: rate.Every(window) * rate.Limit(n),
	}
}

// PerMinute é PerWindow com janela fixa de 60s.
func PerMinute(n float64) Config {
	return PerWindow(n, time.Minute)
}

// WithInitialTokens devolve uma cópia com saldo inicial explícito.
func (c Config) WithInitialTokens(v float64) Config {
	c.InitialTokens = &v
	return c
}

// Initial devolve o saldo inicial efetivo.
func (c Config) Initial() float64 {
	if c.InitialTokens == nil {
		return c.Capacity
	}
	return *c.InitialTokens
}

func (c Config) Validate() error {
	if math.IsNaN(c.Capacity) || math.IsInf(c.Capacity, 0) || c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be a finite number > 0, got %v", ErrInvalidConfiguration, c.Capacity)
	}
	r := float64(c.RefillRate)
	if math.IsNaN(r) || math.IsInf(r, 0) || c.RefillRate == rate.Inf || r <= 0 {
		return fmt.Errorf("%w: refill rate must be a finite number > 0, got %v", ErrInvalidConfiguration, r)
	}
	if c.InitialTokens != nil {
		v := *c.InitialTokens
		if math.IsNaN(v) || v < 0 || v > c.Capacity {
			return fmt.Errorf("%w: initial tokens must be in [0, %v], got %v", ErrInvalidConfiguration, c.Capacity, v)
		}
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("capacity=%g refill=%g/s initial=%g", c.Capacity, float64(c.RefillRate), c.Initial())
}
