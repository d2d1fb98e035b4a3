// Package application provides application initialization and dependency wiring.
// It opens the configured inventory backend, seeds first-run data, connects the
// optional Redis result cache, and builds the planner, handlers, router and HTTP
// server, keeping the main package focused on CLI parsing and orchestration.
package application
