package models

// Toot represents a saved post of a followed account.
//
// SortID reflects insertion order only. The row with the greatest SortID
// for an account holds the resume point of that account.
type Toot struct {
	SortID            uint   `gorm:"column:sortid;primaryKey;autoIncrement"`
	RemoteID          string `gorm:"column:id;not null"`
	HasContentWarning bool   `gorm:"column:cw;not null;default:0"`
	AccountID         string `gorm:"column:userid;not null"`
	URI               string `gorm:"column:uri;not null"`
	Content           string `gorm:"column:content;not null"`
}

// TableName overrides the table name
func (Toot) TableName() string {
	return "toots"
}
