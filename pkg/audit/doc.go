// Package audit records security-relevant changes: role administration,
// custom-claim updates, user role/status changes, user deletion and
// authorization denials.
//
// Sinks: LogSink (structured log lines), DBLogger (audit_events table) and
// MultiLogger fanning out to several. Handlers expose GET /api/audit/events.
package audit
