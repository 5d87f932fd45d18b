// Package monitor looks for anomalous activity around a session.
//
// Activity observations are recorded per user by an [ActivityRepository].
// [Monitor.DetectAnomalies] compares the observations inside a session's
// lifetime window against the session's bound IP and asks a
// [LocationPolicy] to judge the sequence of locations. Flags raise an alert
// and an audit event at most once per dedupe window; the monitor never
// destroys sessions.
package monitor
