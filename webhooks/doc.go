// Package webhooks serves inbound HTTP deliveries for active subscriptions.
//
// A delivery moves through lookup, method check, authentication, body
// decoding, deduplication and correlation. Every failure is turned into a
// status code and a safe body; nothing escapes the pipeline as an error.
//
// Deduplication is driven by a claim lifecycle:
// claimed -> completed (kept for the retention window) | released (on failure).
// A failed correlation releases its claim so the sender's retry is accepted.
package webhooks
