// Package notifier delivers substitution updates and year-end summaries to
// chats through a transport.Adapter.
//
// Sends are synchronous: the caller learns whether the whole payload went
// out and may retry it on the next cycle. Every send passes a shared rate
// limiter and is retried on transient failures with jittered exponential
// backoff; permanent failures (unknown chat, missing rights) return at once.
//
// # Broadcast
//
// A payload with schedule entries is preceded by a loud mention message,
// sent only where the bot may post chat-wide. The mention is deleted after
// a short delay. One process-wide slot serializes mentions, so parallel
// tenants never ping their chats at the same moment.
package notifier
