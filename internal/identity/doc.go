// Package identity maps device hardware addresses to stable identifiers.
//
// An identifier, once assigned to a hardware address, survives restarts:
// the hub looks it up every time the device comes online and only creates
// a new one for an address it has never seen.
//
// Three backends implement Store:
//
//   - SQLiteStore: the default, backed by the hub database. It can also
//     cache the last specification a device reported.
//   - RedisStore: for deployments that share identities between hubs.
//   - MemoryStore: for tests and throwaway runs.
//
// LookupOrAssign is the read-then-conditional-insert sequence the device
// registry relies on. Every backend serialises it so one address never
// receives two identifiers.
package identity
