// Package team scopes GORM queries to one team's ledger.
//
// Every ledger table carries a team_id column. Repositories either apply
// Scope explicitly or rely on the callback registered by EnableAutoTeamFilter,
// which reads the team id that the HTTP layer put into the request context.
package team

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Column is the team column shared by every ledger table
const Column = "team_id"

// ErrTeamIDRequired is returned when team_id is required but not found
var ErrTeamIDRequired = errors.New("team_id is required but not found in context")

// ErrInvalidTeamID is returned when team_id format is invalid
var ErrInvalidTeamID = errors.New("invalid team_id format")

// Scope applies team filtering to GORM queries
func Scope(teamID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(Column+" = ?", teamID)
	}
}
