// Package main hosts the optibatch CLI entrypoint and command graph.
//
// The Cobra-based command tree runs optimization jobs in-process with a
// terminal progress view, drives a running daemon over its HTTP API, pages
// through the result ledger, and launches the restore and library-sync bulk
// workflows. Configuration resolution and logger setup live in context.go
// so subcommands can focus on output.
package main
