package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Illustration bytes live in object storage; the row only points at them.
type Illustration struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Bucket       string         `gorm:"column:bucket;not null;uniqueIndex:idx_illustration_object" json:"bucket"`
	ObjectName   string         `gorm:"column:object_name;not null;uniqueIndex:idx_illustration_object" json:"object_name"`
	MimeType     string         `gorm:"column:mime_type" json:"mime_type"`
	Caption      string         `gorm:"column:caption;type:text" json:"caption"`
	MetadataJSON datatypes.JSON `gorm:"column:metadata_json;type:jsonb" json:"metadata_json"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (Illustration) TableName() string { return "illustration" }

type SectionIllustration struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SectionID      int64     `gorm:"column:section_id;not null;uniqueIndex:idx_section_illustration" json:"section_id"`
	IllustrationID int64     `gorm:"column:illustration_id;not null;uniqueIndex:idx_section_illustration" json:"illustration_id"`
	Position       int       `gorm:"column:position;not null;default:0" json:"position"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
}

func (SectionIllustration) TableName() string { return "section_illustration" }

// FensterWidget is either an inline binary (Payload) or a remote URL.
type FensterWidget struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	LessonID  *string   `gorm:"column:lesson_id;index" json:"lesson_id"`
	Kind      string    `gorm:"column:kind;not null" json:"kind"`
	URL       *string   `gorm:"column:url" json:"url"`
	MimeType  string    `gorm:"column:mime_type" json:"mime_type"`
	Payload   []byte    `gorm:"column:payload" json:"payload"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (FensterWidget) TableName() string { return "fenster_widget" }

type CoachAudio struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobID      string    `gorm:"column:job_id;not null;index:idx_coach_audio_key" json:"job_id"`
	SectionID  *int64    `gorm:"column:section_id;index:idx_coach_audio_key" json:"section_id"`
	Subsection string    `gorm:"column:subsection;not null;index:idx_coach_audio_key" json:"subsection"`
	MimeType   string    `gorm:"column:mime_type" json:"mime_type"`
	DurationMS int       `gorm:"column:duration_ms" json:"duration_ms"`
	Audio      []byte    `gorm:"column:audio" json:"audio"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
}

func (CoachAudio) TableName() string { return "coach_audio" }
