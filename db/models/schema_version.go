package models

import (
	"time"
)

// SchemaVersion holds the last migration applied to the database.
// The table only ever has the row with ID 1.
type SchemaVersion struct {
	ID        uint `gorm:"primaryKey"`
	Version   int  `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName overrides the table name
func (SchemaVersion) TableName() string {
	return "schema_version"
}
