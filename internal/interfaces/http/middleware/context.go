package middleware

import (
	"context"

	"github.com/erp/ledger/internal/infrastructure/logger"
)

// contextWithRequestID stores the request id where logger.L and the
// persistence layer read it
func contextWithRequestID(ctx context.Context, requestID string) context.Context {
	ctx, _ = logger.WithRequestID(ctx, logger.FromContext(ctx), requestID)
	return ctx
}

func contextWithTeamID(ctx context.Context, teamID string) context.Context {
	ctx, _ = logger.WithTeamID(ctx, logger.FromContext(ctx), teamID)
	return ctx
}
