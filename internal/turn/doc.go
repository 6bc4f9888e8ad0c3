// Package turn groups a session's rapid-fire messages into logical turns.
//
// A turn starts pending and buffers every message its session sends. Once the
// session has been idle for the configured window the turn becomes eligible
// for processing; eligibility is evaluated on demand (by polling or the next
// inbound event), never by a timer. The pending-to-processing claim is an
// atomic compare-and-swap in storage, so concurrent workers produce exactly
// one winner and the claimed turn's buffer is frozen from that point on.
//
// Status flow: pending -> processing -> completed | failed. Terminal states
// never reverse.
package turn
