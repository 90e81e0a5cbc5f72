// Package service implements the entity server: it accepts application
// clients on the reactor from package transport and, for each
// CLIENT_SESSION_REQUEST, runs a session key exchange with the
// Authentication Service.
//
// Each client connection has its own handler. Frames on one connection are
// processed in arrival order; while an exchange is in flight further frames
// are queued, so a connection never has two exchanges at once. Exchanges
// run on their own goroutines and report back to the event loop, which
// keeps other connections responsive. If the client leaves first the
// exchange is abandoned, never retried.
//
// What the client receives after an exchange is decided by
// Config.OnSessionKey and Config.OnExchangeFailure. Without them the
// handler logs the outcome and returns to idle.
package service
