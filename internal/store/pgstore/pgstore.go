// Package pgstore is the PostgreSQL backend for swipematch, built on gorm.
//
// It offers the same atomic primitives as the SQLite store using PostgreSQL
// upserts (clause.OnConflict) and conditional updates checked through
// RowsAffected. Timestamps are stored as timestamptz and therefore carry
// microsecond precision.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/roach88/swipematch/internal/model"
)

// Store implements engine.VoteStore, engine.Feed and publish.Log on PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to dsn, pings it and migrates the schema.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing gorm handle. The schema is not migrated.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates every table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels...); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection; used by the HTTP health check.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// CreateRoom inserts a new room. Returns model.ErrRoomExists if the id is taken.
func (s *Store) CreateRoom(ctx context.Context, r model.Room) error {
	if err := model.ValidateNewRoom(r); err != nil {
		return err
	}
	row := roomModel{
		ID:          r.ID,
		MemberCount: r.MemberCount,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return model.ErrRoomExists
		}
		return s.logError("pgstore_create_room_failed", err, "room_id", r.ID)
	}
	return nil
}

// GetRoom returns model.ErrRoomNotFound if the room does not exist.
func (s *Store) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
	var row roomModel
	err := s.db.WithContext(ctx).Where("id = ?", roomID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Room{}, model.ErrRoomNotFound
		}
		return model.Room{}, s.logError("pgstore_get_room_failed", err, "room_id", roomID)
	}
	return row.toModel(), nil
}

// UpdateRoomStatus moves a room along an external edge, conditional on its
// current status.
func (s *Store) UpdateRoomStatus(ctx context.Context, roomID string, from, to model.RoomStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, model.ErrInvalidTransition
	}

	result := s.db.WithContext(ctx).
		Model(&roomModel{}).
		Where("id = ? AND status = ?", roomID, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return false, s.logError("pgstore_update_room_status_failed", result.Error,
			"room_id", roomID,
			"from", string(from),
			"to", string(to),
		)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return false, err
	}
	return false, nil
}

// PutVoteIfAbsent inserts the vote with ON CONFLICT DO NOTHING.
func (s *Store) PutVoteIfAbsent(ctx context.Context, v model.Vote) (bool, error) {
	row := voteModel{
		RoomID:    v.RoomID,
		ItemID:    v.ItemID,
		UserID:    v.UserID,
		VoteType:  string(v.Type),
		CreatedAt: v.CreatedAt.UTC(),
	}
	create := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "item_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, s.logError("pgstore_put_vote_failed", create.Error,
			"room_id", v.RoomID,
			"item_id", v.ItemID,
			"user_id", v.UserID,
		)
	}
	return create.RowsAffected > 0, nil
}

// IncrementPositiveCounter upserts positive_count + 1 and returns the new value.
func (s *Store) IncrementPositiveCounter(ctx context.Context, roomID, itemID string) (int64, error) {
	row := counterModel{RoomID: roomID, ItemID: itemID, PositiveCount: 1}
	create := s.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "room_id"}, {Name: "item_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"positive_count": gorm.Expr("item_counters.positive_count + 1"),
			}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "positive_count"}}},
	).Create(&row)
	if create.Error != nil {
		return 0, s.logError("pgstore_increment_counter_failed", create.Error,
			"room_id", roomID,
			"item_id", itemID,
		)
	}
	return row.PositiveCount, nil
}

// TransitionRoomToMatched sets MATCHED only while the room is open and unmatched.
func (s *Store) TransitionRoomToMatched(ctx context.Context, roomID, itemID string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&roomModel{}).
		Where("id = ?", roomID).
		Where("status IN ?", []string{string(model.RoomStatusActive), string(model.RoomStatusWaiting)}).
		Where("matched_item_id = ''").
		Updates(map[string]any{
			"status":          string(model.RoomStatusMatched),
			"matched_item_id": itemID,
			"matched_at":      at.UTC(),
		})
	if result.Error != nil {
		return false, s.logError("pgstore_transition_room_failed", result.Error,
			"room_id", roomID,
			"item_id", itemID,
		)
	}
	return result.RowsAffected > 0, nil
}

// GetCounter returns the item's positive counter; zero if it has none.
func (s *Store) GetCounter(ctx context.Context, roomID, itemID string) (model.ItemVoteCounter, error) {
	c := model.ItemVoteCounter{RoomID: roomID, ItemID: itemID}
	var row counterModel
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND item_id = ?", roomID, itemID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c, nil
		}
		return model.ItemVoteCounter{}, s.logError("pgstore_get_counter_failed", err,
			"room_id", roomID,
			"item_id", itemID,
		)
	}
	c.PositiveCount = row.PositiveCount
	return c, nil
}

// ListVotes returns the room's votes in insertion order.
func (s *Store) ListVotes(ctx context.Context, roomID string) ([]model.Vote, error) {
	var rows []voteModel
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, s.logError("pgstore_list_votes_failed", err, "room_id", roomID)
	}
	votes := make([]model.Vote, 0, len(rows))
	for _, row := range rows {
		votes = append(votes, row.toModel())
	}
	return votes, nil
}

func (s *Store) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+4)
	fields = append(fields,
		"event", event,
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("postgres store operation failed", fields...)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
