// Package api exposes a running task queue over HTTP. It routes admin
// requests, validates their bodies, and maps service errors to status codes
// without leaking internal details to clients.
package api
