// Package models contains the GORM persistence models of the procurement store.
// They are kept apart from the domain types so that the domain stays free of
// ORM tags; every model has ToDomain and ...FromDomain mappers.
//
//   - base.go: identity, timestamp and version columns
//   - procurement.go: orders, items, approval steps, integration attempts,
//     supplier responses, the audit ledger and the daily sequence counter
//   - outbox.go: transactional outbox entries
package models
