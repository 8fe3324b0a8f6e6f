// Package session coordinates the lifecycle of one voice-agent conversation.
//
// # Overview
//
// A Coordinator owns a single conversation from the moment a credential is
// requested until the record is finalized. It talks to the remote voice
// service through three small interfaces so the transport can be swapped in
// tests:
//
//   - CredentialExchange: turns an agent id into a short-lived signed URL
//   - Dialer: opens a Channel from that credential
//   - AnalysisSource: fetches post-call analysis for a remote session id
//
// # Lifecycle
//
//	idle -> connecting -> active -> completed
//
// Start requests a credential and dials. The connect event moves the
// coordinator to active and links the remote session id, which is written at
// most once per conversation. A disconnect, a channel that closes without
// one, or an explicit End finalizes the conversation with a derived summary.
// Finalization is idempotent and never replaces a richer summary that analysis
// already wrote.
//
// # Transcript
//
// Inbound messages are deduplicated by role and content before they are
// written, and the transcript loaded at startup seeds the window so replays
// after a reconnect are dropped. A failed write forgets its key so the same
// message can be retried.
//
// # Analysis
//
// Analysis arrives two ways and both are per-field overlays:
//
//   - push: the Reconciler resolves the remote session id and merges
//   - pull: RefreshAnalysis or Reconciler.Pull fetches and merges
//
// A pull without a remote session id returns ErrMissingRemoteID without
// contacting the remote service.
//
// # Updates
//
// Every observable change is published on a Broadcaster keyed by
// conversation id. Slow subscribers drop updates rather than block the
// coordinator. The Registry shares one broadcaster between all live
// coordinators so HTTP streams, the webhook and the CLI observe the same
// session.
package session
