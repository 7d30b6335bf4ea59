package generation

import (
	"time"

	"gorm.io/datatypes"
)

const JobStatusDone = "done"

// Job is the root of the exported graph. Its id is an opaque string that is
// identical on every deployment, so it is never remapped.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey" json:"id"`
	Kind        string         `gorm:"column:kind;not null;index" json:"kind"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	LessonID    *string        `gorm:"column:lesson_id;index" json:"lesson_id"`
	SectionID   *int64         `gorm:"column:section_id;index" json:"section_id"`
	RequestJSON datatypes.JSON `gorm:"column:request_json;type:jsonb" json:"request_json"`
	ResultJSON  datatypes.JSON `gorm:"column:result_json;type:jsonb" json:"result_json"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index;autoCreateTime:false" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null;autoUpdateTime:false" json:"updated_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at"`
}

func (Job) TableName() string { return "generation_job" }
