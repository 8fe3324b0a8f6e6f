// Package gateway runs the coven-voice server.
//
// # Overview
//
// The gateway owns the store, the coordinator registry, the analysis
// reconciler and the listeners. It serves an HTTP API for operators and the
// ElevenLabs webhook, plus a gRPC health service for orchestrators.
//
// # HTTP API
//
// Routes under /api/ require a bearer JWT when auth.jwt_secret is set:
//
//	POST   /api/token                          exchange an agent id for a signed session URL
//	POST   /api/analysis                       pull and merge post-call analysis
//	GET    /api/agents                         list agents
//	POST   /api/agents                         create an agent
//	GET    /api/agents/{id}                    get an agent
//	DELETE /api/agents/{id}                    delete an agent and its conversations
//	GET    /api/conversations                  list conversations (?agent_id, ?limit)
//	POST   /api/conversations                  create a conversation
//	GET    /api/conversations/{id}             conversation, transcript and live state
//	POST   /api/conversations/{id}/start       open the voice session
//	POST   /api/conversations/{id}/messages    send a typed user message
//	POST   /api/conversations/{id}/end         end the session and finalize
//	POST   /api/conversations/{id}/analysis    refresh analysis
//	GET    /api/conversations/{id}/events      server-sent updates
//	GET    /api/conversations/{id}/transcript  HTML transcript (?format=md for markdown)
//
// Open routes:
//
//	GET  /health               liveness
//	GET  /health/ready         store reachability
//	POST /webhooks/elevenlabs  analysis push, HMAC-signed when a webhook secret is set
//
// # Errors
//
// Errors are JSON objects with an "error" field. Failures reported by
// ElevenLabs keep the upstream status code and carry the upstream body in
// "details".
//
// # Listeners
//
// Without Tailscale the HTTP and gRPC servers bind server.http_addr and
// server.grpc_addr. With tailscale.enabled the gateway joins the tailnet via
// tsnet and serves HTTP on :80, or on :443 through Funnel when
// tailscale.funnel is set, so the webhook is reachable from ElevenLabs.
//
// # Shutdown
//
// Shutdown stops the HTTP server, the gRPC server, closes every live
// coordinator (finalizing started conversations), then closes the store.
package gateway
