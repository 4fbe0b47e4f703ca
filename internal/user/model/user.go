package model

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin:
		return true
	}
	return false
}

// IsAllowed reports whether the role is a member of the allowed set.
func (r Role) IsAllowed(allowed ...Role) bool {
	for _, a := range allowed {
		if r == a {
			return true
		}
	}
	return false
}

type User struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	Email          string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	Photo          string    `gorm:"type:varchar(255);not null;default:'default.jpg'" json:"photo"`
	Role           Role      `gorm:"type:varchar(50);not null;default:'user'" json:"role"`
	PasswordHashed string    `gorm:"type:varchar(255);not null" json:"-"`

	// PasswordChangedAt is the revocation watermark: any session token issued
	// before it is stale. Nil means the password has never changed.
	PasswordChangedAt *time.Time `gorm:"type:timestamptz" json:"-"`

	// The reset pair is either both set or both nil; only the sha256 of the
	// token is ever stored.
	PasswordResetToken   *string    `gorm:"type:varchar(64);index" json:"-"`
	PasswordResetExpires *time.Time `gorm:"type:timestamptz" json:"-"`

	Active    bool      `gorm:"not null;default:true" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// ChangedPasswordAfter reports whether the password changed after the given
// token-issuance time. JWT timestamps have second precision, so the comparison
// truncates both sides to seconds before deciding.
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Truncate(time.Second).Before(u.PasswordChangedAt.Truncate(time.Second))
}
