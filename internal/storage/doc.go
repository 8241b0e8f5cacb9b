// Package storage persists one record per tenant.
//
// Two drivers are available:
//   - "file": one pretty-printed JSON document per tenant, replaced
//     atomically (<id>.json, .json.tmp, .json.old, .json.bad)
//   - "sqlite": one row per tenant in a single database file
//
// Every operation on a tenant runs under that tenant's own lock, so
// different tenants never wait for each other.
package storage
