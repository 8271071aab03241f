package team

import (
	"strings"

	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Callback adds a team_id condition to queries, updates and deletes that do
// not carry one already
type Callback struct {
	required bool
}

// NewCallback creates a team callback. With required set, a statement whose
// context has no team id fails instead of running unscoped.
func NewCallback(required bool) *Callback {
	return &Callback{required: required}
}

// Register installs the callbacks on db. Creates are left alone: the team id
// is part of every row the repository writes.
func (c *Callback) Register(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("team:before_query", c.addTeamFilter); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("team:before_update", c.addTeamFilter); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("team:before_delete", c.addTeamFilter); err != nil {
		return err
	}
	return cb.Row().Before("gorm:row").Register("team:before_row", c.addTeamFilter)
}

// EnableAutoTeamFilter registers the team callbacks on db
func EnableAutoTeamFilter(db *gorm.DB, required bool) error {
	return NewCallback(required).Register(db)
}

func (c *Callback) addTeamFilter(db *gorm.DB) {
	if db.Statement.Context == nil || db.Statement.Unscoped {
		return
	}
	if hasTeamCondition(db) {
		return
	}

	teamID := logger.GetTeamID(db.Statement.Context)
	if teamID == "" {
		if c.required {
			_ = db.AddError(ErrTeamIDRequired)
		}
		return
	}
	if _, err := uuid.Parse(teamID); err != nil {
		_ = db.AddError(ErrInvalidTeamID)
		return
	}

	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: clause.CurrentTable, Name: Column},
				Value:  teamID,
			},
		},
	})
}

func hasTeamCondition(db *gorm.DB) bool {
	whereClause, ok := db.Statement.Clauses["WHERE"]
	if !ok {
		return false
	}
	where, ok := whereClause.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, expr := range where.Exprs {
		if exprContainsTeam(expr) {
			return true
		}
	}
	return false
}

func exprContainsTeam(expr clause.Expression) bool {
	switch e := expr.(type) {
	case clause.Eq:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == Column
		}
	case clause.IN:
		if col, ok := e.Column.(clause.Column); ok {
			return col.Name == Column
		}
	case clause.Expr:
		return strings.Contains(e.SQL, Column)
	case clause.AndConditions:
		for _, cond := range e.Exprs {
			if exprContainsTeam(cond) {
				return true
			}
		}
	case clause.OrConditions:
		for _, cond := range e.Exprs {
			if exprContainsTeam(cond) {
				return true
			}
		}
	}
	return false
}
