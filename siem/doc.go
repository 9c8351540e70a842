// Package siem normalizes security events into a canonical CEF-style
// record and delivers them to one configured external sink.
//
// Sinks are polymorphic over a single capability, Deliver. The Dispatcher
// wraps whichever sink was selected at startup and applies one fallback
// rule for every variant: an unconfigured sink, a transport error, or a
// non-success response all degrade to the local sink. Dispatch never
// returns an error to its caller.
package siem
