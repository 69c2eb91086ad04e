package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service credits points exactly once per source. Callers may retry
// Credit freely; replays report created=false and change nothing.
type Service interface {
	Credit(ctx context.Context, sourceType string, sourceID snowflake.ID, username string, points int64) (created bool, err error)
	Balance(ctx context.Context, username string) (int64, error)
}

var (
	ErrInvalidSource = errors.New("invalid_source")
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidPoints = errors.New("invalid_points")
)
