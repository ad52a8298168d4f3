package audit

// Entry is one immutable row of the audit trail. Rows are only ever
// inserted; the ordering key is (created_at_s desc, entry_id desc) and the
// UUIDv7 entry id breaks same-second ties deterministically.
type Entry struct {
	EntryID          string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	ScopeID          string `gorm:"column:scope_id;size:190;not null;index:idx_audit_scope_time,priority:1"`
	UserID           string `gorm:"column:user_id;size:190;not null"`
	Section          string `gorm:"column:section;size:64;not null"`
	Action           string `gorm:"column:action;size:64;not null"`
	BeforeJSON       string `gorm:"column:before_json;type:text;not null"`
	AfterJSON        string `gorm:"column:after_json;type:text;not null"`
	Detail           string `gorm:"column:detail;size:512;not null;default:''"`
	IPAddress        string `gorm:"column:ip_address;size:64;not null;default:''"`
	UserAgent        string `gorm:"column:user_agent;size:512;not null;default:''"`
	City             string `gorm:"column:city;size:190;not null;default:''"`
	Region           string `gorm:"column:region;size:190;not null;default:''"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_audit_scope_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "audit_entries"
}

// RequestMeta carries the request attributes stamped onto audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	City      string
	Region    string
}

// FieldChange is one surviving diff from field history reconstruction.
type FieldChange struct {
	UserID           string
	OldValue         string
	NewValue         string
	CreatedAtSeconds int64
}
