package storage

import (
	"time"

	"gorm.io/gorm"
)

// JobKind tags a Job with the intake that created it, replacing the
// legacy "does external_id contain a hyphen" runtime dispatch with a
// typed field set once at creation.
type JobKind string

const (
	JobKindChat JobKind = "chat"
	JobKindURL  JobKind = "url"
)

// Status values a Job can hold. All three terminal states are
// resumable back to StatusDownloading via retry.
const (
	StatusDownloading = "downloading"
	StatusDone        = "done"
	StatusFailed      = "failed"
	StatusStopped     = "stopped"
)

// Job is the central persisted entity: one row per logical download,
// chat- or URL-sourced. Renamed from the teacher's DownloadTask, whose
// own deprecated `Task = DownloadTask` alias signaled an unfinished
// rename; this completes it.
type Job struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ExternalID     string         `gorm:"uniqueIndex" json:"external_id"`
	Kind           JobKind        `gorm:"index" json:"kind"`
	SourceTag      string         `gorm:"index" json:"source_tag"`
	URL            string         `json:"url,omitempty"`
	File           string         `json:"file"`
	Status         string         `gorm:"index" json:"status"`
	Progress       float64        `json:"progress"`
	Speed          float64        `json:"speed"` // KiB/s
	DownloadedBytes int64         `json:"downloaded_bytes"`
	TotalBytes     int64          `json:"total_bytes"`
	PendingTime    *int64         `json:"pending_time"`
	Error          string         `json:"error,omitempty"`
	IsDeleted      bool           `gorm:"index" json:"is_deleted"`
	FileDeleted    bool           `json:"file_deleted"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"` // GORM's own soft-delete column, unused by the Store; distinct from IsDeleted
}

// TableName specifies the table name for Job.
func (Job) TableName() string {
	return "downloads"
}

// SourceRoutingEntry maps a source_tag to a destination folder,
// preferred quality, and access-restriction flag. Renamed from the
// teacher's DownloadLocation (a bare path/nickname pair) and
// generalized with the routing fields the original Python
// implementation's download_type_maps table carried.
type SourceRoutingEntry struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	SourceTag        string `gorm:"uniqueIndex" json:"source_tag"`
	DestinationFolder string `json:"destination_folder,omitempty"`
	PreferredQuality string `json:"preferred_quality,omitempty"`
	AccessRestricted bool   `json:"access_restricted"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for SourceRoutingEntry.
func (SourceRoutingEntry) TableName() string {
	return "download_type_maps"
}

// User is an operator account. Passwords are bcrypt hashes; the
// salted-hash scheme itself is out of the core's scope per spec §1.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex" json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for User.
func (User) TableName() string {
	return "users"
}

// AppSetting stores key-value application settings, kept from the
// teacher verbatim in shape (it already matched the target schema).
type AppSetting struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

// TableName specifies the table name for AppSetting.
func (AppSetting) TableName() string {
	return "settings"
}
