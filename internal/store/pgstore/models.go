package pgstore

import (
	"time"

	"github.com/roach88/swipematch/internal/model"
)

type roomModel struct {
	ID            string     `gorm:"column:id;primaryKey"`
	MemberCount   int64      `gorm:"column:member_count;not null;check:chk_rooms_member_count,member_count > 0"`
	Status        string     `gorm:"column:status;not null"`
	MatchedItemID string     `gorm:"column:matched_item_id;not null;default:''"`
	MatchedAt     *time.Time `gorm:"column:matched_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
}

func (roomModel) TableName() string {
	return "rooms"
}

func (m roomModel) toModel() model.Room {
	return model.Room{
		ID:            m.ID,
		MemberCount:   m.MemberCount,
		Status:        model.RoomStatus(m.Status),
		MatchedItemID: m.MatchedItemID,
		MatchedAt:     normalizeOptionalTime(m.MatchedAt),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

type voteModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RoomID    string    `gorm:"column:room_id;not null;uniqueIndex:ux_votes_key,priority:1;index:ix_votes_room,priority:1"`
	ItemID    string    `gorm:"column:item_id;not null;uniqueIndex:ux_votes_key,priority:2"`
	UserID    string    `gorm:"column:user_id;not null;uniqueIndex:ux_votes_key,priority:3"`
	VoteType  string    `gorm:"column:vote_type;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (voteModel) TableName() string {
	return "votes"
}

func (m voteModel) toModel() model.Vote {
	return model.Vote{
		RoomID:    m.RoomID,
		ItemID:    m.ItemID,
		UserID:    m.UserID,
		Type:      model.VoteType(m.VoteType),
		CreatedAt: m.CreatedAt.UTC(),
	}
}

type counterModel struct {
	RoomID        string `gorm:"column:room_id;primaryKey"`
	ItemID        string `gorm:"column:item_id;primaryKey"`
	PositiveCount int64  `gorm:"column:positive_count;not null;check:chk_counters_positive,positive_count >= 0"`
}

func (counterModel) TableName() string {
	return "item_counters"
}

type feedModel struct {
	Seq       int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	EventName string `gorm:"column:event_name;not null"`
	Image     string `gorm:"column:image;type:text;not null"`
}

func (feedModel) TableName() string {
	return "vote_feed"
}

type cursorModel struct {
	Consumer string `gorm:"column:consumer;primaryKey"`
	Seq      int64  `gorm:"column:seq;not null"`
}

func (cursorModel) TableName() string {
	return "feed_cursors"
}

type consensusModel struct {
	EventID     string     `gorm:"column:event_id;primaryKey"`
	RoomID      string     `gorm:"column:room_id;not null;uniqueIndex:ux_consensus_room"`
	ItemID      string     `gorm:"column:item_id;not null"`
	MatchedAt   time.Time  `gorm:"column:matched_at;not null"`
	EmittedAt   time.Time  `gorm:"column:emitted_at;not null;index:ix_consensus_pending,priority:2"`
	ExpiresAt   time.Time  `gorm:"column:expires_at;not null;index:ix_consensus_expires"`
	PublishedAt *time.Time `gorm:"column:published_at;index:ix_consensus_pending,priority:1"`
}

func (consensusModel) TableName() string {
	return "consensus_events"
}

func consensusModelFrom(ev model.ConsensusEvent) consensusModel {
	return consensusModel{
		EventID:     ev.EventID,
		RoomID:      ev.RoomID,
		ItemID:      ev.ItemID,
		MatchedAt:   ev.MatchedAt.UTC(),
		EmittedAt:   ev.EmittedAt.UTC(),
		ExpiresAt:   ev.ExpiresAt.UTC(),
		PublishedAt: normalizeOptionalTime(ev.PublishedAt),
	}
}

func (m consensusModel) toModel() model.ConsensusEvent {
	return model.ConsensusEvent{
		EventID:     m.EventID,
		RoomID:      m.RoomID,
		ItemID:      m.ItemID,
		MatchedAt:   m.MatchedAt.UTC(),
		EmittedAt:   m.EmittedAt.UTC(),
		ExpiresAt:   m.ExpiresAt.UTC(),
		PublishedAt: normalizeOptionalTime(m.PublishedAt),
	}
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	t := value.UTC()
	return &t
}

// allModels lists the tables in migration order.
var allModels = []any{
	&roomModel{},
	&voteModel{},
	&counterModel{},
	&feedModel{},
	&cursorModel{},
	&consensusModel{},
}
