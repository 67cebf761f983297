// Package ratelimit fornece adapters HTTP (net/http) para admissão por token bucket
// e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão granted/denied/cancelled, espera limitada) sem net/http
//   - infra: implementações concretas (relógio, token bucket, registry por chave, semáforo, stats)
//   - ratelimit (este pacote): middlewares HTTP + wiring/extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (IP/header/XFF)
//  2. Chama a camada application para obter a decisão (na hora, ou esperando até MaxWait)
//  3. Se bloqueado, responde 429 com Retry-After estimado pelo bucket (rate limit) ou 503 (concorrência)
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_RPS, RATE_BURST, RATE_PER_MINUTE, RATE_MAX_WAIT, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
