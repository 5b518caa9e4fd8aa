// Package metadata holds the relational schema: repositories, files,
// commits, LFS history, and staging uploads. It never stores blob bytes;
// it only records what points where.
package metadata

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RepoType enumerates the three namespaces a repository can live in.
type RepoType string

const (
	RepoTypeModel   RepoType = "model"
	RepoTypeDataset RepoType = "dataset"
	RepoTypeSpace   RepoType = "space"
)

// Role is a membership level within an organization.
type Role string

const (
	RoleVisitor    Role = "visitor"
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// User represents both individual accounts and organizations. IsOrg rows
// carry null Email/PasswordHash and are the target of UserOrganization
// memberships rather than a participant in them.
type User struct {
	ID        uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Username       string `json:"username" gorm:"uniqueIndex;not null;size:255"`
	NormalizedName string `json:"-" gorm:"uniqueIndex;not null;size:255"`
	Email          string `json:"email,omitempty" gorm:"size:255"`
	PasswordHash   string `json:"-" gorm:"size:255"`
	EmailVerified  bool   `json:"email_verified" gorm:"default:false"`
	IsActive       bool   `json:"is_active" gorm:"default:true"`
	IsOrg          bool   `json:"is_org" gorm:"default:false;index"`
	IsAdmin        bool   `json:"is_admin" gorm:"default:false"`

	PrivateQuotaBytes *int64 `json:"private_quota_bytes"`
	PublicQuotaBytes  *int64 `json:"public_quota_bytes"`
	PrivateUsedBytes  int64  `json:"private_used_bytes" gorm:"default:0"`
	PublicUsedBytes   int64  `json:"public_used_bytes" gorm:"default:0"`
}

func (u *User) TableName() string { return "users" }

// UserOrganization is a membership row linking a User to an org (another
// User row with IsOrg=true).
type UserOrganization struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt      time.Time `json:"created_at"`
	UserID         uuid.UUID `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_org"`
	OrganizationID uuid.UUID `json:"organization_id" gorm:"type:uuid;not null;uniqueIndex:idx_user_org"`
	Role           Role      `json:"role" gorm:"type:varchar(50);not null;check:role IN ('visitor','member','admin','super_admin')"`

	User         User `json:"-" gorm:"foreignKey:UserID"`
	Organization User `json:"-" gorm:"foreignKey:OrganizationID"`
}

func (o *UserOrganization) TableName() string { return "user_organizations" }

// LFSRules holds the per-repo overrides resolved together with the
// server-wide defaults in internal/config.
type LFSRules struct {
	ThresholdBytes *int64   `json:"threshold_bytes,omitempty"`
	SuffixPatterns []string `json:"suffix_patterns,omitempty" gorm:"serializer:json"`
	KeepVersions   *int     `json:"keep_versions,omitempty"`
}

// Repository is deliberately keyed by a numeric ID, not uuid: the
// versioned-store namespace name embeds this id as a suffix so a
// delete-then-recreate of the same (type, namespace, name) never
// collides with the old storage namespace.
type Repository struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	RepoType  RepoType  `json:"repo_type" gorm:"type:varchar(20);not null;uniqueIndex:idx_repo_identity;check:repo_type IN ('model','dataset','space')"`
	Namespace string    `json:"namespace" gorm:"size:255;not null;uniqueIndex:idx_repo_identity"`
	Name      string    `json:"name" gorm:"size:255;not null;uniqueIndex:idx_repo_identity"`
	Private   bool      `json:"private" gorm:"default:false"`
	OwnerID   uuid.UUID `json:"owner_id" gorm:"type:uuid;not null;index"`

	QuotaBytes *int64 `json:"quota_bytes"`
	UsedBytes  int64  `json:"used_bytes" gorm:"default:0"`

	LFSRules LFSRules `json:"lfs_rules" gorm:"embedded;embeddedPrefix:lfs_"`

	Owner User `json:"-" gorm:"foreignKey:OwnerID"`
}

func (r *Repository) TableName() string { return "repositories" }

// FullID returns "namespace/name", the external identifier HF clients use.
func (r *Repository) FullID() string {
	return r.Namespace + "/" + r.Name
}

// File tracks one path in one repository. Rows are never hard-deleted so
// that LFSObjectHistory always has a valid foreign key to point at; a
// deleted path is represented by IsDeleted=true instead.
type File struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RepositoryID uint      `json:"repository_id" gorm:"not null;uniqueIndex:idx_file_path"`
	PathInRepo   string    `json:"path_in_repo" gorm:"size:1024;not null;uniqueIndex:idx_file_path"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256" gorm:"size:64;index"`
	LFS          bool      `json:"lfs" gorm:"default:false"`
	IsDeleted    bool      `json:"is_deleted" gorm:"default:false;index"`
	OwnerID      uuid.UUID `json:"owner_id" gorm:"type:uuid;not null"`

	Repository Repository `json:"-" gorm:"foreignKey:RepositoryID"`
}

func (f *File) TableName() string { return "files" }

// Commit is a denormalized view of a commit in the versioned store,
// enriched with the authorship the store itself does not track.
type Commit struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt    time.Time `json:"created_at"`
	CommitID     string    `json:"commit_id" gorm:"size:64;not null;index"`
	RepositoryID uint      `json:"repository_id" gorm:"not null;index"`
	RepoType     RepoType  `json:"repo_type" gorm:"type:varchar(20);not null"`
	Branch       string    `json:"branch" gorm:"size:255;not null"`
	AuthorID     *uuid.UUID `json:"author_id" gorm:"type:uuid"`
	Username     string    `json:"username" gorm:"size:255"`
	Message      string    `json:"message" gorm:"type:text"`
	Description  string    `json:"description" gorm:"type:text"`

	Repository Repository `json:"-" gorm:"foreignKey:RepositoryID"`
}

func (c *Commit) TableName() string { return "commits" }

// LFSObjectHistory is one row per observed usage of an oid in a commit
// and is the source of truth for GC retention. Tracking only adds rows;
// GC purges an oid's rows when it deletes the blob, and repository
// teardown drops the repository's rows.
type LFSObjectHistory struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt    time.Time `json:"created_at"`
	RepositoryID uint      `json:"repository_id" gorm:"not null;index:idx_lfshist_repo_path"`
	FileID       *uuid.UUID `json:"file_id" gorm:"type:uuid"`
	PathInRepo   string    `json:"path_in_repo" gorm:"size:1024;not null;index:idx_lfshist_repo_path"`
	SHA256       string    `json:"sha256" gorm:"size:64;not null;index"`
	Size         int64     `json:"size"`
	CommitID     string    `json:"commit_id" gorm:"size:64"`

	Repository Repository `json:"-" gorm:"foreignKey:RepositoryID"`
	File       *File      `json:"-" gorm:"foreignKey:FileID"`
}

func (h *LFSObjectHistory) TableName() string { return "lfs_object_history" }

// StagingUpload is a transient record of an in-flight multipart upload,
// keyed by the blob store's upload id.
type StagingUpload struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt    time.Time `json:"created_at"`
	RepositoryID uint      `json:"repository_id" gorm:"not null;index"`
	Revision     string    `json:"revision" gorm:"size:255"`
	PathInRepo   string    `json:"path_in_repo" gorm:"size:1024"`
	OID          string    `json:"oid" gorm:"size:64;index"`
	Size         int64     `json:"size"`
	UploadID     string    `json:"upload_id" gorm:"size:255;uniqueIndex"`
}

func (s *StagingUpload) TableName() string { return "staging_uploads" }

// AllModels lists every model for AutoMigrate, in FK-safe order.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&UserOrganization{},
		&Repository{},
		&File{},
		&Commit{},
		&LFSObjectHistory{},
		&StagingUpload{},
	}
}
