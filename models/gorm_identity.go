package models

// Identity is an enrolled person. It corresponds to the 'identities' table.
// Names are not unique; two enrollments with the same name are two identities.
type Identity struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string `gorm:"not null;index" json:"name"`
	CreatedAt int64  `gorm:"not null" json:"created_at"` // Unix timestamp

	// SourceImage keeps the enrollment payload (base64, without data-URI
	// prefix). The size maps to longtext on MySQL and text on SQLite.
	SourceImage string `gorm:"size:4294967295" json:"-"`
}

// TableName explicitly sets the table name for GORM.
func (Identity) TableName() string {
	return "identities"
}
