// Copyright (c) ReviewFlow Authors.
// Licensed under the MIT License.

/*
Package main is the ReviewFlow server entry point.

# Overview

cmd/reviewflow is the executable front of the ReviewFlow coordination
service. It exposes the HTTP API for starting reviewable runs, resuming
paused tasks with reviewer decisions, browsing version history, and
streaming task events over WebSocket. Subcommands cover serving,
database migration, health probing, and version reporting.

# Core types

  - Server     — wires storage, cache, engine bridge, coordinator and
    the HTTP/metrics listeners; owns graceful shutdown
  - Middleware — HTTP middleware signature func(http.Handler) http.Handler

# Capabilities

  - Subcommands: serve, migrate (up/down/status/goto/force/reset),
    version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders,
    RequestLogger, OTelTracing, MetricsMiddleware, RateLimiter (per IP),
    JWTAuth (Bearer tokens, reviewer identity claims)
  - Metrics server: separate port exposing /metrics (Prometheus)
  - Graceful shutdown: signal wait, stop HTTP, stop metrics, close
    event hub, close cache and database
  - Build injection: Version, BuildTime, GitCommit set via ldflags
*/
package main
