// Package server owns the HTTP listener lifecycle.
//
// Manager binds a net.Listener, serves in the background and exposes
// graceful shutdown plus a signal-driven WaitForShutdown. The API
// server and the metrics endpoint each run behind their own Manager.
package server
