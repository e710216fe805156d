// Package sgx holds the source-specific knowledge of the SGX derivatives
// historical-data host and the algorithms built on it.
//
// The source publishes each trading day's files under a numeric resource id
// that grows by one per slot with no algebraic relation to the calendar.
// This package owns:
//
//   - URLs: id + filename → resource location
//   - DateFromFileName / NewProbe: discovering which trading day an id
//     belongs to from the served filename
//   - LatestInfoProvider: where the newest (id, date) pair comes from
//     (operator-supplied or a forward scan)
//   - Updater: gap-filling the durable id→date mapping store
//   - Resolver: turning date, range and last-n requests into ids
package sgx
