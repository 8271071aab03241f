package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/erp/ledger/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TeamHeader names the team whose ledger a request reads or changes
const TeamHeader = "X-Team-ID"

var errInvalidTeam = errors.New("invalid team id")

// Limits on header values copied into logs and span attributes
const (
	MaxRequestIDLength = 128
	MaxTeamIDLength    = 64
)

// TeamConfig holds configuration for the team middleware
type TeamConfig struct {
	// Required rejects requests without a team header
	Required bool
	// SkipPaths are served without a team, e.g. health checks
	SkipPaths []string
}

// DefaultTeamConfig requires a team on every path except health checks
func DefaultTeamConfig() TeamConfig {
	return TeamConfig{
		Required:  true,
		SkipPaths: []string{"/health", "/healthz", "/ready"},
	}
}

// Team reads the X-Team-ID header, stores the team in the gin context and
// in the request context so logs and the team-scoped database callback see
// it. A malformed header is always rejected.
func Team(cfg TeamConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, p := range cfg.SkipPaths {
			if path == p || strings.HasPrefix(path, p+"/") {
				c.Next()
				return
			}
		}

		raw := strings.TrimSpace(c.GetHeader(TeamHeader))
		if raw == "" {
			if cfg.Required {
				abortTeam(c, "TEAM_REQUIRED", "X-Team-ID header is required")
				return
			}
			c.Next()
			return
		}

		id, err := parseTeamID(raw)
		if err != nil {
			abortTeam(c, "INVALID_TEAM", "X-Team-ID must be a UUID")
			return
		}

		c.Set(logger.GinTeamIDKey, id.String())
		c.Request = c.Request.WithContext(contextWithTeamID(c.Request.Context(), id.String()))
		c.Next()
	}
}

// GetTeamID returns the team set by Team, or false when the request has none
func GetTeamID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString(logger.GinTeamIDKey)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func parseTeamID(raw string) (uuid.UUID, error) {
	if len(raw) > MaxTeamIDLength {
		return uuid.Nil, errInvalidTeam
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, errInvalidTeam
	}
	return id, nil
}

func abortTeam(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":       code,
			"message":    message,
			"request_id": GetRequestID(c),
		},
	})
}
