// Package currency normalizes stamp face values into euro cents so values in
// different currencies can be summed and compared as integers.
package currency
