// Package planner answers combination queries against the stored inventory.
// It resolves named postage rates, consults the result cache, and bounds
// how long a caller waits for the calculator.
package planner
