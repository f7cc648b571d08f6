// Package notifications delivers push notifications for pipeline outcomes
// via ntfy. Terminal job events and phase-gate decisions are forwarded from
// the broadcast hub through EventSink; everything degrades to a noop when no
// topic is configured.
package notifications
