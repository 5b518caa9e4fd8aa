// Package perm implements the permission and quota predicates called at
// every mutation boundary. It reads the metadata store
// directly rather than trusting any role embedded in a JWT, since
// organization membership can change between token issuance and use.
package perm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kohakuhub/hub/internal/apierror"
	"github.com/kohakuhub/hub/internal/metadata"
	"gorm.io/gorm"
)

type Principal struct {
	UserID   uuid.UUID
	Username string
	IsAdmin  bool
}

var roleRank = map[metadata.Role]int{
	metadata.RoleVisitor:    1,
	metadata.RoleMember:     2,
	metadata.RoleAdmin:      3,
	metadata.RoleSuperAdmin: 4,
}

func rankAtLeast(role metadata.Role, min metadata.Role) bool {
	return roleRank[role] >= roleRank[min]
}

// NamespacePermission checks whether principal has at least `min` role
// over namespace ns. A namespace equal to principal's own username
// always grants every role implicitly.
func NamespacePermission(ctx context.Context, db *gorm.DB, ns string, principal *Principal, min metadata.Role) (bool, error) {
	if principal == nil {
		return false, nil
	}
	if principal.IsAdmin {
		return true, nil
	}
	if principal.Username == ns {
		return true, nil
	}

	var org metadata.User
	if err := db.WithContext(ctx).Where("username = ? AND is_org = ?", ns, true).First(&org).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("perm: lookup org %s: %w", ns, err)
	}

	var membership metadata.UserOrganization
	err := db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", principal.UserID, org.ID).
		First(&membership).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("perm: lookup membership: %w", err)
	}

	return rankAtLeast(membership.Role, min), nil
}

func RepoRead(ctx context.Context, db *gorm.DB, repo *metadata.Repository, principal *Principal) (bool, error) {
	if !repo.Private {
		return true, nil
	}
	ok, err := NamespacePermission(ctx, db, repo.Namespace, principal, metadata.RoleVisitor)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func RepoWrite(ctx context.Context, db *gorm.DB, repo *metadata.Repository, principal *Principal) (bool, error) {
	return NamespacePermission(ctx, db, repo.Namespace, principal, metadata.RoleMember)
}

func RepoDelete(ctx context.Context, db *gorm.DB, repo *metadata.Repository, principal *Principal) (bool, error) {
	if principal != nil && principal.IsAdmin {
		return true, nil
	}
	return NamespacePermission(ctx, db, repo.Namespace, principal, metadata.RoleAdmin)
}

// CheckQuota enforces {private,public}_{quota,used}_bytes on the owning
// User row (shared between individual accounts and organizations).
// A nil quota means unlimited.
func CheckQuota(ctx context.Context, db *gorm.DB, namespace string, addBytes int64, private bool) error {
	var owner metadata.User
	if err := db.WithContext(ctx).Where("username = ?", namespace).First(&owner).Error; err != nil {
		return apierror.Internal("perm: quota owner lookup failed", err)
	}

	var quota *int64
	var used int64
	if private {
		quota = owner.PrivateQuotaBytes
		used = owner.PrivateUsedBytes
	} else {
		quota = owner.PublicQuotaBytes
		used = owner.PublicUsedBytes
	}

	if quota != nil && used+addBytes > *quota {
		return apierror.QuotaExceeded(fmt.Sprintf("quota exceeded for %s: %d + %d > %d", namespace, used, addBytes, *quota))
	}
	return nil
}

// AdjustQuota updates the owner's used_bytes counter after a successful
// commit or repo move, in either direction (positive delta to add, or
// negative to decrement a vacated namespace).
func AdjustQuota(ctx context.Context, db *gorm.DB, namespace string, delta int64, private bool) error {
	column := "public_used_bytes"
	if private {
		column = "private_used_bytes"
	}
	return db.WithContext(ctx).Model(&metadata.User{}).
		Where("username = ?", namespace).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
}
