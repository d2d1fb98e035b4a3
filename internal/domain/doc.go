// Package domain holds the inventory entities shared by the calculator,
// storage backends and HTTP API.
package domain
