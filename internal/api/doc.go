// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It translates HTTP concerns to plan task service
// operations and maps service errors to status codes without leaking
// internal details.
package api
