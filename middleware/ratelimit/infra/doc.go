// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - SystemClock / ManualClock: fonte de tempo real (monotônica) e controlada por teste
//   - TokenLimiter: token bucket seguro para concorrência, com TryAcquire e Acquire
//   - Registry: um TokenLimiter por chave, em shards, com limpeza de chaves inativas
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore: contadores de decisões
package infra
