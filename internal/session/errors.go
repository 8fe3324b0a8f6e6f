// ABOUTME: Sentinel errors surfaced by the conversation coordinator
// ABOUTME: Callers match with errors.Is; underlying causes are wrapped with %w

package session

import "errors"

var (
	// ErrConnectFailure means credential exchange or channel setup failed
	ErrConnectFailure = errors.New("could not connect to the voice session")

	// ErrTransportSend means an outbound message could not be written to the channel.
	// It is logged and published, never returned from SendUserMessage.
	ErrTransportSend = errors.New("could not send over the session channel")

	// ErrStoreWrite means a transcript or conversation write failed
	ErrStoreWrite = errors.New("could not write to the store")

	// ErrMissingRemoteID means analysis was requested for a conversation that
	// never learned its remote session id, usually because the call was
	// interrupted during connection.
	ErrMissingRemoteID = errors.New("conversation has no remote session id; the call may have been interrupted during connection")

	// ErrAnalysisNotReady means the remote service has not produced analysis yet
	ErrAnalysisNotReady = errors.New("analysis not ready yet")

	// ErrAnalysisFetch means the remote service rejected or failed the analysis request
	ErrAnalysisFetch = errors.New("could not fetch analysis")

	// ErrTimeout means a bounded remote call did not finish in time
	ErrTimeout = errors.New("timed out")

	// ErrConversationCompleted means the conversation was already finalized
	ErrConversationCompleted = errors.New("conversation already completed")

	// ErrNotLoaded means an operation ran before Load succeeded
	ErrNotLoaded = errors.New("conversation not loaded")

	// ErrEmptyMessage means an outbound message had no content
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrClosed means the coordinator was closed
	ErrClosed = errors.New("coordinator closed")
)
