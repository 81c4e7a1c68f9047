// Package app provides the application service layer.
//
// Service is the event producer: it mutates the counter store and announces
// every change on the broadcast channel. Scheduler runs the leader-only
// maintenance jobs, and Supervise keeps long-running tasks such as the update
// subscriber alive. Depends on domain interfaces, not concrete adapters.
package app
