// Package api defines the transport-friendly DTOs shared by the HTTP API
// and the IPC protocol, plus the conversions from persisted job records.
//
// The daemon's HTTP server and the unix-socket RPC service both speak these
// types, so a CLI talking over the socket and a dashboard polling the HTTP
// surface see identical payloads for the same job.
package api
