package domain

import "time"

// Clock abstrai a fonte de tempo. Deve ser monotônica; se não for, quem
// calcula o tempo decorrido trata leituras para trás como zero.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer é o mínimo de time.Timer usado para suspender um Acquire.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// BucketSnapshot é uma leitura consistente do estado de um bucket.
type BucketSnapshot struct {
	Tokens     float64
	Capacity   float64
	RefillRate float64
	LastRefill time.Time
	// ClockRegressions conta leituras do relógio que andaram para trás
	// (tratadas localmente como tempo decorrido zero).
	ClockRegressions uint64
	InFlight         int64
}
