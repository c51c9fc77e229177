// Package middleware wraps every send attempt the worker runs.
//
// The engine installs, outermost first, [Recover], [Tracing], [Metrics],
// [Logging] and [Timeout], then any middleware the caller adds. The
// observability layers read the send payload for its channel, kind and
// recipient count, and report the attempt's outcome through [Classify]
// so that balance, validation, lookup, transport and deadline failures
// can be told apart without parsing error strings.
package middleware
