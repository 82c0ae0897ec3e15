// Package llm classifies mailbox messages with a language model. It supports
// OpenAI and Anthropic through a small Client interface, and wraps a client
// in a Classifier that adds rate limiting, per-attempt timeouts, retries with
// jittered exponential backoff, and strict validation against the taxonomy.
package llm
