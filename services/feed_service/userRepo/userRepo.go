package userrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"go.uber.org/zap"
)

// UserRepo answers the read-only questions the pipeline asks about users:
// display summaries for enrichment and the friendship graph for fan-out.
// Friendships are stored in both directions, so a user's followers are the
// users they follow.
//
// Summaries are read from the primary so enrichment sees users and hobbies
// created just before the event. The graph is read from the replica.
type UserRepo struct {
	primaryDB *sql.DB
	replicaDB *sql.DB
	logger    *zap.Logger
}

func NewUserRepo(primaryDB, replicaDB *sql.DB, logger *zap.Logger) *UserRepo {
	return &UserRepo{
		primaryDB: primaryDB,
		replicaDB: replicaDB,
		logger:    logger,
	}
}

func (repo *UserRepo) GetUserSummary(ctx context.Context, id int64) (models.UserSummary, error) {
	var (
		s    models.UserSummary
		last sql.NullString
	)
	err := repo.primaryDB.QueryRowContext(ctx,
		"SELECT id, first_name, last_name FROM users WHERE id = $1", id).Scan(&s.Id, &s.FirstName, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserSummary{}, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		repo.logger.Error("Error querying user", zap.Int64("user_id", id), zap.Error(err))
		return models.UserSummary{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	if last.Valid {
		s.LastName = &last.String
	}
	return s, nil
}

func (repo *UserRepo) GetHobbySummary(ctx context.Context, id int64) (models.HobbySummary, error) {
	var h models.HobbySummary
	err := repo.primaryDB.QueryRowContext(ctx,
		"SELECT id, name FROM hobbies WHERE id = $1", id).Scan(&h.Id, &h.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.HobbySummary{}, fmt.Errorf("hobby %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		repo.logger.Error("Error querying hobby", zap.Int64("hobby_id", id), zap.Error(err))
		return models.HobbySummary{}, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return h, nil
}

func (repo *UserRepo) FollowerIds(ctx context.Context, userId int64) ([]int64, error) {
	return repo.ids(ctx, "SELECT DISTINCT user_id FROM friendships WHERE friend_id = $1", userId)
}

func (repo *UserRepo) FollowingIds(ctx context.Context, userId int64) ([]int64, error) {
	return repo.ids(ctx, "SELECT DISTINCT friend_id FROM friendships WHERE user_id = $1", userId)
}

func (repo *UserRepo) ids(ctx context.Context, query string, userId int64) ([]int64, error) {
	rows, err := repo.replicaDB.QueryContext(ctx, query, userId)
	if err != nil {
		repo.logger.Error("Error querying friendships", zap.Int64("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return ids, nil
}
