package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("storage: not found")

// Store is the Job Store (spec §4.A): durable CRUD over Job records,
// Source Routing CRUD, and the settings KV table, backed by GORM over
// a CGO-free SQLite driver, exactly as the teacher's storage layer is.
type Store struct {
	DB *gorm.DB
}

// NewStore opens (creating if absent) the SQLite database at path and
// runs the forward-only migration described in spec §6.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL;")

	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.DB.AutoMigrate(&Job{}, &SourceRoutingEntry{}, &User{}, &AppSetting{}); err != nil {
		return fmt.Errorf("storage: automigrate: %w", err)
	}
	// Forward-only introspection pass: columns that predate a field
	// addition to Job are added with a safe default. AutoMigrate
	// already does this for new columns, but is silent about the
	// default value it picks for NOT NULL columns on SQLite, so the
	// defaults below are applied explicitly for documentation and to
	// survive a future driver change that does not auto-default.
	type columnDefault struct {
		table, column, def string
	}
	defaults := []columnDefault{
		{"downloads", "kind", "'chat'"},
		{"downloads", "status", "'downloading'"},
		{"downloads", "is_deleted", "0"},
		{"downloads", "file_deleted", "0"},
	}
	for _, cd := range defaults {
		if s.DB.Migrator().HasColumn(cd.table, cd.column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT DEFAULT %s", cd.table, cd.column, cd.def)
		s.DB.Exec(stmt) // best-effort; AutoMigrate already created the column in the common case
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint, used on graceful shutdown.
func (s *Store) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// --- Job CRUD -----------------------------------------------------

// CreateJob inserts a new Job row.
func (s *Store) CreateJob(job *Job) error {
	return s.DB.Create(job).Error
}

// GetJobByID looks up a non-deleted Job by primary key.
func (s *Store) GetJobByID(id uint) (*Job, error) {
	var job Job
	err := s.DB.Where("id = ? AND is_deleted = ?", id, false).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobByExternalID looks up a non-deleted Job by its external id.
func (s *Store) GetJobByExternalID(externalID string) (*Job, error) {
	var job Job
	err := s.DB.Where("external_id = ? AND is_deleted = ?", externalID, false).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListFilter carries the parameters of the list operation, applied in
// the order required by spec §4.A: exclude-by-source, search, status
// filter, sort, then pagination.
type ListFilter struct {
	ExcludeSourceTags []string
	Search            string
	Filter            string // "all" | "active"
	SortBy            string // created_at | file | status | progress
	SortOrder         string // asc | desc
	Limit             int
	Offset            int
}

var allowedSortColumns = map[string]string{
	"created_at": "created_at",
	"file":       "file",
	"status":     "status",
	"progress":   "progress",
}

// List returns the filtered, sorted, paginated rows plus the total
// count pre-pagination and a has_more flag.
func (s *Store) List(f ListFilter) (rows []Job, total int64, hasMore bool, err error) {
	q := s.DB.Model(&Job{}).Where("is_deleted = ?", false)

	if len(f.ExcludeSourceTags) > 0 {
		q = q.Where("source_tag NOT IN ?", f.ExcludeSourceTags)
	}
	if f.Search != "" {
		q = q.Where("LOWER(file) LIKE ?", "%"+strings.ToLower(f.Search)+"%")
	}
	if f.Filter == "active" {
		q = q.Where("status != ?", StatusDone)
	}

	if err = q.Count(&total).Error; err != nil {
		return nil, 0, false, err
	}

	sortCol, ok := allowedSortColumns[f.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		order = "ASC"
	}
	q = q.Order(sortCol + " " + order)

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	// fetch one extra row to derive has_more without a second count query
	if err = q.Limit(limit + 1).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, false, err
	}
	if len(rows) > limit {
		hasMore = true
		rows = rows[:limit]
	}
	return rows, total, hasMore, nil
}

// UpdateByExternalID applies a sparse patch to the Job matching
// externalID. Missing rows are a no-op reporting ErrNotFound rather
// than a job failure (spec §4.A failure semantics).
func (s *Store) UpdateByExternalID(externalID string, patch map[string]interface{}) error {
	tx := s.DB.Model(&Job{}).Where("external_id = ? AND is_deleted = ?", externalID, false).Updates(patch)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteByExternalID marks a Job deleted without removing the row,
// preserving it for audit (spec §7).
func (s *Store) SoftDeleteByExternalID(externalID string) error {
	tx := s.DB.Model(&Job{}).Where("external_id = ?", externalID).Update("is_deleted", true)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates over all non-deleted jobs per spec §4.H.
type Stats struct {
	Total           int64
	Active          int64
	Done            int64
	DownloadedBytes int64
	TotalBytes      int64
	PendingBytes    int64
	TotalSpeed      float64
}

// GetStats computes the aggregate counters backing GET /stats.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	base := s.DB.Model(&Job{}).Where("is_deleted = ?", false)

	if err := base.Session(&gorm.Session{}).Count(&st.Total).Error; err != nil {
		return st, err
	}
	if err := base.Session(&gorm.Session{}).Where("status != ?", StatusDone).Count(&st.Active).Error; err != nil {
		return st, err
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", StatusDone).Count(&st.Done).Error; err != nil {
		return st, err
	}

	var sums struct {
		DownloadedBytes int64
		TotalBytes      int64
		TotalSpeed      float64
	}
	if err := base.Session(&gorm.Session{}).
		Select("COALESCE(SUM(downloaded_bytes),0) as downloaded_bytes, COALESCE(SUM(total_bytes),0) as total_bytes, COALESCE(SUM(speed),0) as total_speed").
		Scan(&sums).Error; err != nil {
		return st, err
	}
	st.DownloadedBytes = sums.DownloadedBytes
	st.TotalBytes = sums.TotalBytes
	st.TotalSpeed = sums.TotalSpeed
	st.PendingBytes = st.TotalBytes - st.DownloadedBytes
	if st.PendingBytes < 0 {
		st.PendingBytes = 0
	}
	return st, nil
}

// --- Source Routing CRUD -------------------------------------------

// UpsertRoutingEntry creates or updates the routing row for a source tag.
func (s *Store) UpsertRoutingEntry(entry *SourceRoutingEntry) error {
	var existing SourceRoutingEntry
	err := s.DB.Where("source_tag = ?", entry.SourceTag).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.DB.Create(entry).Error
	}
	if err != nil {
		return err
	}
	entry.ID = existing.ID
	return s.DB.Save(entry).Error
}

// GetRoutingEntry returns the routing row for a source tag, if any.
func (s *Store) GetRoutingEntry(sourceTag string) (*SourceRoutingEntry, error) {
	var entry SourceRoutingEntry
	err := s.DB.Where("source_tag = ?", sourceTag).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListRoutingEntries returns every configured routing row.
func (s *Store) ListRoutingEntries() ([]SourceRoutingEntry, error) {
	var entries []SourceRoutingEntry
	err := s.DB.Order("source_tag ASC").Find(&entries).Error
	return entries, err
}

// DeleteRoutingEntry removes a routing row by id.
func (s *Store) DeleteRoutingEntry(id uint) error {
	tx := s.DB.Delete(&SourceRoutingEntry{}, id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccessRestrictedSourceTags returns the set of source tags whose
// routing entry marks them access-restricted.
func (s *Store) ListAccessRestrictedSourceTags() (map[string]bool, error) {
	var entries []SourceRoutingEntry
	if err := s.DB.Where("access_restricted = ?", true).Find(&entries).Error; err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e.SourceTag] = true
	}
	return set, nil
}

// ResolveSourceTagsForMappingIDs resolves a set of routing-entry ids
// (as exposed over the wire, see spec §4.H's exclude_mapping_ids) to
// their source tags.
func (s *Store) ResolveSourceTagsForMappingIDs(ids []uint) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var entries []SourceRoutingEntry
	if err := s.DB.Where("id IN ?", ids).Find(&entries).Error; err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		tags = append(tags, e.SourceTag)
	}
	return tags, nil
}

// --- Users -----------------------------------------------------

// CreateUser inserts a new operator account.
func (s *Store) CreateUser(u *User) error {
	return s.DB.Create(u).Error
}

// GetUserByUsername looks up an operator account by username.
func (s *Store) GetUserByUsername(username string) (*User, error) {
	var u User
	err := s.DB.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserPasswordHash updates a user's stored password hash.
func (s *Store) UpdateUserPasswordHash(userID uint, hash string) error {
	tx := s.DB.Model(&User{}).Where("id = ?", userID).Update("password_hash", hash)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers reports how many operator accounts exist, used to decide
// whether to seed the default account on first run.
func (s *Store) CountUsers() (int64, error) {
	var count int64
	err := s.DB.Model(&User{}).Count(&count).Error
	return count, err
}

// --- Settings KV -----------------------------------------------------

// GetString reads a setting value, returning "" if unset.
func (s *Store) GetString(key string) (string, error) {
	var setting AppSetting
	err := s.DB.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// SetString writes a setting value (upsert).
func (s *Store) SetString(key, value string) error {
	return s.DB.Save(&AppSetting{Key: key, Value: value}).Error
}
