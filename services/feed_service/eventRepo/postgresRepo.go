package eventrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alimx07/Social_Feed_Backend/services/feed_service/models"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const eventColumns = `id, author_id, type, payload, EXTRACT(EPOCH FROM created)`

type PostgresRepo struct {
	primaryDB *sql.DB // For writes
	replicaDB *sql.DB // For reads
	logger    *zap.Logger
}

func NewPostgresRepo(primaryDB, replicaDB *sql.DB, logger *zap.Logger) *PostgresRepo {
	return &PostgresRepo{
		primaryDB: primaryDB,
		replicaDB: replicaDB,
		logger:    logger,
	}
}

// Write operations use primaryDB
func (ps *PostgresRepo) Put(ctx context.Context, ev *models.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}
	_, err = ps.primaryDB.ExecContext(ctx,
		`INSERT INTO news (id, author_id, type, payload, created)
        VALUES ($1, $2, $3, $4, to_timestamp($5))
        ON CONFLICT (id) DO NOTHING`,
		ev.Id, ev.AuthorId, string(ev.Type), payload, ev.Created)
	if err != nil {
		ps.logger.Error("Error creating event", zap.String("event_id", ev.Id), zap.Error(err))
		return fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return nil
}

// Read operations use replicaDB
func (ps *PostgresRepo) Get(ctx context.Context, id string) (*models.Event, error) {
	row := ps.replicaDB.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM news WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		ps.logger.Error("Error querying event", zap.String("event_id", id), zap.Error(err))
		return nil, err
	}
	return &ev, nil
}

func (ps *PostgresRepo) ListByAuthors(ctx context.Context, authorIds []int64, order Order, limit, offset int) ([]models.Event, error) {
	if len(authorIds) == 0 {
		return []models.Event{}, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM news WHERE author_id = ANY($1)
        ORDER BY created %s LIMIT $2 OFFSET $3`, eventColumns, order.sql())
	return ps.list(ctx, query, pq.Array(authorIds), limit, offset)
}

func (ps *PostgresRepo) ListSince(ctx context.Context, since float64, order Order, limit, offset int) ([]models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM news WHERE created > to_timestamp($1)
        ORDER BY created %s LIMIT $2 OFFSET $3`, eventColumns, order.sql())
	return ps.list(ctx, query, since, limit, offset)
}

func (ps *PostgresRepo) list(ctx context.Context, query string, arg any, limit, offset int) ([]models.Event, error) {
	rows, err := ps.replicaDB.QueryContext(ctx, query, arg, limit, max(offset, 0))
	if err != nil {
		ps.logger.Error("Error querying events", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	defer rows.Close()

	events := make([]models.Event, 0, limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			ps.logger.Error("Error scanning event row", zap.Error(err))
			return nil, err
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		ps.logger.Error("Error iterating event rows", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", models.ErrTransientStore, err)
	}
	return events, nil
}

func (ps *PostgresRepo) Close() {
	ps.primaryDB.Close()
	if ps.replicaDB != ps.primaryDB {
		ps.replicaDB.Close()
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// Rows coming back from the store are already persisted and enriched.
func scanEvent(s scanner) (models.Event, error) {
	var (
		ev      models.Event
		typ     string
		payload []byte
	)
	if err := s.Scan(&ev.Id, &ev.AuthorId, &typ, &payload, &ev.Created); err != nil {
		return models.Event{}, err
	}
	ev.Type = models.NewsType(typ)
	p, err := models.DecodePayload(ev.Type, payload)
	if err != nil {
		return models.Event{}, err
	}
	ev.Payload = p
	ev.Populated = p.Populated()
	ev.Stored = true
	return ev, nil
}

func (o Order) sql() string {
	if o == Asc {
		return string(Asc)
	}
	return string(Desc)
}
