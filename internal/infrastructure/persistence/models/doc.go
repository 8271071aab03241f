// Package models contains GORM-specific persistence models that map to the
// ledger tables. They are separate from domain entities to keep the domain
// layer free from ORM concerns.
//
// - base.go: common columns (BaseModel, TeamModel)
// - ledger.go: invoices, payments, credit notes and allocations
package models
