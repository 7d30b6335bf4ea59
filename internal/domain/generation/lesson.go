package generation

import (
	"time"

	"gorm.io/datatypes"
)

type Lesson struct {
	ID           string         `gorm:"column:id;primaryKey" json:"id"`
	Title        string         `gorm:"column:title;not null" json:"title"`
	Language     string         `gorm:"column:language" json:"language"`
	MetadataJSON datatypes.JSON `gorm:"column:metadata_json;type:jsonb" json:"metadata_json"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (Lesson) TableName() string { return "lesson" }

// Section ids are database sequences and differ between deployments; the
// stable identity of a section is (lesson_id, order_index).
type Section struct {
	ID               int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	LessonID         string         `gorm:"column:lesson_id;not null;uniqueIndex:idx_lesson_section_order" json:"lesson_id"`
	OrderIndex       int            `gorm:"column:order_index;not null;uniqueIndex:idx_lesson_section_order" json:"order_index"`
	Title            string         `gorm:"column:title" json:"title"`
	ContentJSON      datatypes.JSON `gorm:"column:content_json;type:jsonb" json:"content_json"`
	ShorthandContent string         `gorm:"column:shorthand_content;type:text" json:"shorthand_content"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (Section) TableName() string { return "lesson_section" }

type SectionError struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SectionID  int64          `gorm:"column:section_id;not null;index" json:"section_id"`
	Kind       string         `gorm:"column:kind;not null" json:"kind"`
	Message    string         `gorm:"column:message;type:text;not null" json:"message"`
	DetailJSON datatypes.JSON `gorm:"column:detail_json;type:jsonb" json:"detail_json"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
}

func (SectionError) TableName() string { return "section_error" }

type SubjectiveWidget struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SectionID  int64          `gorm:"column:section_id;not null;uniqueIndex:idx_subjective_widget_key" json:"section_id"`
	WidgetKey  string         `gorm:"column:widget_key;not null;uniqueIndex:idx_subjective_widget_key" json:"widget_key"`
	Prompt     string         `gorm:"column:prompt;type:text" json:"prompt"`
	ConfigJSON datatypes.JSON `gorm:"column:config_json;type:jsonb" json:"config_json"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;autoCreateTime:false" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
}

func (SubjectiveWidget) TableName() string { return "subjective_widget" }
