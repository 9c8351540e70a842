// Package ssoguard provides admission control and a security-event
// pipeline for SSO/identity services: sliding-window rate limiting with
// HTTP middleware, event normalization and dispatch to SIEM backends with
// local fallback, signed webhook broadcasting of critical events to tenant
// domains, and event correlation over pluggable storage.
package ssoguard
