// Package store provides the durable state of sgx-downloader:
// the id→date mapping table and the failed-download ledger.
//
// Both live in one SQLite database opened with Open. The mapping table is
// append-only with a contiguous id sequence (see MappingStore.Append) and a
// unique date index for date→id lookups. The ledger holds one entry per
// failed (id, filename) pair until a retry succeeds.
//
//	s, err := store.Open("/path/to/mappings.db")
//	defer s.Close()
//	mappings := s.Mappings()
//	ledger := s.Ledger()
package store
