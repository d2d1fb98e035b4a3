// Package cache keeps recent combination search results keyed by a
// fingerprint of the inventory and the request.
package cache
