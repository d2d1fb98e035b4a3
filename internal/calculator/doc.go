// Package calculator finds combinations of owned stamps that cover a postage
// target. It enumerates multisets of stamps shortest first, keeps those whose
// total lies between the target and the target plus an overpay margin, and
// ranks them by overpay, stamp count and number of distinct stamps.
//
// The enumeration stops after AcceptedCap accepted combinations and never
// builds combinations longer than MaxStampsCeiling, so results may be
// incomplete for large inventories; Result.Incomplete reports when that happened.
package calculator
