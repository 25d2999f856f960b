// Package notifications sends operator alerts for the daemon.
//
// The default implementation posts to an ntfy topic configured under
// [notifications] and degrades to a no-op when no topic is set. Alerts cover
// failed sessions, disk corruption and a loader running out of serial
// numbers, the events that need someone to act before the next field visit.
package notifications
