// Package elevenlabs adapts the ElevenLabs Conversational AI service to the
// session contracts.
//
// Client wraps the two REST calls the service needs: exchanging an agent's
// API key for a signed websocket URL, and fetching a conversation's post-call
// analysis. TokenIssuer and AnalysisFetcher resolve the agent from the store
// on every call so API keys stay out of coordinator memory.
//
// Dialer and Conn implement the websocket session in text-only mode. Upstream
// messages map onto session events:
//
//	conversation_initiation_metadata  -> connect (carries the remote session id)
//	user_transcript                   -> message from user
//	agent_response                    -> mode speaking, message from ai, mode listening
//	interruption                      -> mode listening
//	ping                              -> answered with pong
//
// VerifySignature and ParseWebhook handle analysis pushed to the webhook.
package elevenlabs
