// Package trustledger implements an append-only hash chain of anchored
// content hashes. It backs the development fabric gateway and the
// in-process ledger client.
//
// The chain begins with a well-known genesis entry whose Hash equals GenesisHash
// (64 hex zeros). Every subsequent entry records the SHA-256 of its predecessor,
// making any tampering detectable via Verify. An entry's Hash doubles as the
// transaction ID handed back to submitters.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package trustledger
