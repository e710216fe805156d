// Package model defines the core data structures shared across
// sgx-downloader.
//
// # Record
//
// Record maps one upstream resource id to the trading day it belongs to:
//
//	rec := model.Record{ID: 5531, Date: day}
//	rec.HasDate() // false for weekend/holiday slots stored with a zero Date
//
// # ErrorEntry
//
// ErrorEntry describes one failed download, uniquely identified by
// (ID, Filename) so a successful retry can remove exactly that entry.
//
// # Dates
//
// All dates are calendar days in DateLayout ("2006-01-02"), truncated to
// midnight UTC via Day. ParseDate validates request input and rejects
// impossible day/month combinations.
package model
