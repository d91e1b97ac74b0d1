package notifications

import (
	"time"

	"gorm.io/datatypes"
)

// Kind classifies a notification for presentation.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindLive    Kind = "live"
	KindWarn    Kind = "warn"
)

// DefaultCapacity is the number of most recent events kept per square.
const DefaultCapacity = 50

// Meta carries navigation hints (tab, entity ids) for the client. The fan-out never interprets it.
type Meta map[string]string

// Draft is the caller-supplied part of an event.
type Draft struct {
	Kind  Kind
	Title string
	Text  string
	Meta  Meta
}

// Event is one immutable entry of a square's notification log.
type Event struct {
	Seq      int64                    `gorm:"column:seq;primaryKey;autoIncrement" json:"-"`
	ID       string                   `gorm:"column:event_id;size:190;not null;uniqueIndex" json:"id"`
	SquareID string                   `gorm:"column:square_id;size:190;not null;index:idx_notifications_square_seq,priority:1" json:"square_id"`
	Kind     Kind                     `gorm:"column:kind;size:16;not null" json:"kind"`
	Title    string                   `gorm:"column:title;size:320;not null" json:"title"`
	Text     string                   `gorm:"column:text;type:text;not null" json:"text"`
	Meta     datatypes.JSONType[Meta] `gorm:"column:meta_json" json:"meta"`
	At       time.Time                `gorm:"column:at;not null" json:"at"`
}

// TableName provides the explicit table binding for GORM.
func (Event) TableName() string {
	return "square_notifications"
}

// MetaValue returns a single meta entry.
func (e Event) MetaValue(key string) string {
	return e.Meta.Data()[key]
}

func normalizeKind(kind Kind) Kind {
	switch kind {
	case KindInfo, KindSuccess, KindLive, KindWarn:
		return kind
	default:
		return KindInfo
	}
}
