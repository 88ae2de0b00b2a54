// Package notifier delivers toasts asynchronously.
//
// Toasts are short, user-facing messages: a new announcement, or a system
// notice such as "Announcements reloaded!". Callers enqueue and return
// immediately; a small worker pool drains the queue under a shared rate
// limit and retries failed sends with jittered exponential backoff.
//
// # Transport
//
// Delivery goes through a transport.Sender (console, Telegram, or a Multi
// fanout of both), so nothing here depends on a specific sink.
//
// # History
//
// The service keeps a bounded in-memory history of delivered toasts for the
// control API.
package notifier
