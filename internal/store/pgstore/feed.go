package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/roach88/swipematch/internal/model"
)

// AppendChange adds a record to the vote feed and returns its seq.
//
// Sequence values are handed out before commit, so two concurrent appends
// could become visible out of seq order and a reader whose cursor already
// passed the later one would never see the earlier. The table lock
// serialises appenders, making commit order equal seq order. EXCLUSIVE mode
// still admits readers.
func (s *Store) AppendChange(ctx context.Context, rec model.ChangeRecord) (int64, error) {
	if !rec.EventName.Valid() {
		return 0, &model.ValidationError{Field: "eventName", Reason: "unknown value " + string(rec.EventName)}
	}
	row := feedModel{EventName: string(rec.EventName), Image: string(rec.Image)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("LOCK TABLE " + feedModel{}.TableName() + " IN EXCLUSIVE MODE").Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return 0, s.logError("pgstore_append_change_failed", err)
	}
	return row.Seq, nil
}

// ListChanges returns up to limit records after afterSeq; limit <= 0 means all.
func (s *Store) ListChanges(ctx context.Context, afterSeq int64, limit int) ([]model.ChangeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []feedModel
	if err := s.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, s.logError("pgstore_list_changes_failed", err, "after_seq", afterSeq)
	}
	records := make([]model.ChangeRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, model.ChangeRecord{
			Seq:       row.Seq,
			EventName: model.ChangeEventName(row.EventName),
			Image:     json.RawMessage(row.Image),
		})
	}
	return records, nil
}

// LoadCursor returns the consumer's committed seq, zero if none.
func (s *Store) LoadCursor(ctx context.Context, consumer string) (int64, error) {
	var rows []cursorModel
	if err := s.db.WithContext(ctx).
		Where("consumer = ?", consumer).
		Limit(1).
		Find(&rows).Error; err != nil {
		return 0, s.logError("pgstore_load_cursor_failed", err, "consumer", consumer)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Seq, nil
}

// SaveCursor commits seq for consumer. The cursor never moves backward.
func (s *Store) SaveCursor(ctx context.Context, consumer string, seq int64) error {
	row := cursorModel{Consumer: consumer, Seq: seq}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "consumer"}},
		DoUpdates: clause.Assignments(map[string]any{"seq": gorm.Expr("EXCLUDED.seq")}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("EXCLUDED.seq > feed_cursors.seq"),
		}},
	}).Create(&row).Error
	if err != nil {
		return s.logError("pgstore_save_cursor_failed", err, "consumer", consumer, "seq", seq)
	}
	return nil
}

// RecordConsensusEvent inserts ev unless the room already has one and returns
// the stored event.
func (s *Store) RecordConsensusEvent(ctx context.Context, ev model.ConsensusEvent) (model.ConsensusEvent, bool, error) {
	row := consensusModelFrom(ev)

	var (
		stored   consensusModel
		inserted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		create := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoNothing: true,
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		inserted = create.RowsAffected > 0
		return tx.Where("room_id = ?", ev.RoomID).First(&stored).Error
	})
	if err != nil {
		return model.ConsensusEvent{}, false, s.logError("pgstore_record_consensus_failed", err,
			"room_id", ev.RoomID,
			"event_id", ev.EventID,
		)
	}
	return stored.toModel(), inserted, nil
}

// GetConsensusEvent returns the room's event or model.ErrEventNotFound.
func (s *Store) GetConsensusEvent(ctx context.Context, roomID string) (model.ConsensusEvent, error) {
	var row consensusModel
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.ConsensusEvent{}, model.ErrEventNotFound
		}
		return model.ConsensusEvent{}, s.logError("pgstore_get_consensus_failed", err, "room_id", roomID)
	}
	return row.toModel(), nil
}

// MarkConsensusPublished stamps the event's first publish time.
func (s *Store) MarkConsensusPublished(ctx context.Context, eventID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&consensusModel{}).
		Where("event_id = ?", eventID).
		Update("published_at", gorm.Expr("COALESCE(published_at, ?)", at.UTC()))
	if result.Error != nil {
		return s.logError("pgstore_mark_consensus_published_failed", result.Error, "event_id", eventID)
	}
	if result.RowsAffected == 0 {
		return model.ErrEventNotFound
	}
	return nil
}

// ListUnpublishedConsensus returns unexpired, unpublished events, oldest first.
func (s *Store) ListUnpublishedConsensus(ctx context.Context, now time.Time, limit int) ([]model.ConsensusEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []consensusModel
	if err := s.db.WithContext(ctx).
		Where("published_at IS NULL AND expires_at > ?", now.UTC()).
		Order("emitted_at ASC, event_id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, s.logError("pgstore_list_unpublished_consensus_failed", err)
	}
	events := make([]model.ConsensusEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toModel())
	}
	return events, nil
}

// PurgeExpiredConsensus deletes events whose expires_at is not after now.
func (s *Store) PurgeExpiredConsensus(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&consensusModel{})
	if result.Error != nil {
		return 0, s.logError("pgstore_purge_consensus_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// ListUnrecordedMatches returns rooms matched in (after, before] that have no
// consensus event, oldest match first.
func (s *Store) ListUnrecordedMatches(ctx context.Context, after, before time.Time, limit int) ([]model.Room, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []roomModel
	if err := s.db.WithContext(ctx).
		Where("matched_item_id <> '' AND matched_at > ? AND matched_at <= ?", after.UTC(), before.UTC()).
		Where("NOT EXISTS (?)", s.db.Model(&consensusModel{}).Select("1").Where("consensus_events.room_id = rooms.id")).
		Order("matched_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, s.logError("pgstore_list_unrecorded_matches_failed", err)
	}
	rooms := make([]model.Room, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.toModel())
	}
	return rooms, nil
}
