package userrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alimx07/Social_Feed_Backend/services/messages_service/models"
	"go.uber.org/zap"
)

type UserRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewUserRepo(db *sql.DB, logger *zap.Logger) *UserRepo {
	return &UserRepo{db: db, logger: logger}
}

// Exists fails with ErrNotFound for unknown users.
func (ur *UserRepo) Exists(ctx context.Context, id int64) error {
	var ok bool
	err := ur.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok)
	if err != nil {
		ur.logger.Error("Error querying user", zap.Int64("user_id", id), zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if !ok {
		return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return nil
}
