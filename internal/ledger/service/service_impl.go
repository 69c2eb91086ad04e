package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/ledger/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
	}
}

// Credit inserts the ledger entry and bumps the materialized balance in
// one transaction. The ON CONFLICT DO NOTHING on the source key is the
// idempotency guard: when the entry already exists the balance update
// is skipped, so replays cannot double-credit.
func (s *Service) Credit(ctx context.Context, sourceType string, sourceID snowflake.ID, username string, points int64) (bool, error) {
	sourceType = strings.TrimSpace(sourceType)
	if sourceType == "" || sourceID == 0 {
		return false, domain.ErrInvalidSource
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return false, domain.ErrInvalidUser
	}
	if points <= 0 {
		return false, domain.ErrInvalidPoints
	}

	now := time.Now().UTC()
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Exec(
			`INSERT INTO points_ledger_entries (id, source_type, source_id, username, points, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (source_type, source_id) DO NOTHING`,
			s.genID.Generate(),
			sourceType,
			sourceID,
			username,
			points,
			now,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		return tx.WithContext(ctx).Exec(
			`INSERT INTO user_points (username, balance, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (username) DO UPDATE SET
			   balance = user_points.balance + excluded.balance,
			   updated_at = excluded.updated_at`,
			username,
			points,
			now,
		).Error
	})
	if err != nil {
		return false, err
	}
	if created {
		s.log.Info("points_credited",
			zap.String("username", username),
			zap.Int64("points", points),
			zap.String("source_type", sourceType),
			zap.String("source_id", sourceID.String()),
		)
	}
	return created, nil
}

func (s *Service) Balance(ctx context.Context, username string) (int64, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return 0, domain.ErrInvalidUser
	}
	var row domain.UserPoints
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Balance, nil
}
