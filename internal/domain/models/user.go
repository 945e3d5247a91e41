// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Account status values.
const (
	StatusStudent = "eleve"
	StatusTeacher = "prof"
)

// User is an account: a student or a teacher.
//
// SignupExpiresAt is set only while a self-service signup is waiting for
// email verification; a TTL index removes the document once it passes.
// A nil value means the account is never auto-deleted.
type User struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Nom             string             `bson:"nom" json:"nom"`
	Prenom          string             `bson:"prenom" json:"prenom"`
	DedupKey        string             `bson:"dedupKey,omitempty" json:"-"`
	Email           string             `bson:"email" json:"email"`
	PasswordHash    string             `bson:"password" json:"-"`
	CreatedAt       time.Time          `bson:"date" json:"date"`
	IsVerified      bool               `bson:"isVerified" json:"isVerified"`
	ConfirmHash     string             `bson:"confirm,omitempty" json:"-"`
	ConfirmExpires  *time.Time         `bson:"confirmExpires,omitempty" json:"-"`
	ConfirmAttempts int                `bson:"confirmAttempts,omitempty" json:"-"`
	SignupExpiresAt *time.Time         `bson:"signupExpiresAt,omitempty" json:"-"`
	Status          string             `bson:"status" json:"status"` // eleve | prof
	Follow          []Enrollment       `bson:"follow" json:"follow"`
	Active          bool               `bson:"active" json:"active"`
}

// PendingSignup reports whether the account is an unverified self-service
// signup still inside its verification window bookkeeping.
func (u *User) PendingSignup() bool {
	return !u.IsVerified && u.SignupExpiresAt != nil
}

// SignupLapsed reports whether a pending signup has passed its window.
// Lapsed accounts are treated as absent even before the sweep removes them.
func (u *User) SignupLapsed(now time.Time) bool {
	return u.PendingSignup() && !u.SignupExpiresAt.After(now)
}

// EnrollmentFor returns the canonical enrollment for classID, if any.
// When legacy data holds both a standard and an admin entry, admin wins.
func (u *User) EnrollmentFor(classID primitive.ObjectID) (Enrollment, bool) {
	var found Enrollment
	ok := false
	for _, e := range u.Follow {
		if e.ClassID != classID {
			continue
		}
		if !ok || e.Role == RoleAdmin {
			found, ok = e, true
		}
	}
	return found, ok
}

// IsAdminAnywhere reports whether the user administers at least one classroom.
func (u *User) IsAdminAnywhere() bool {
	for _, e := range u.Follow {
		if e.Role == RoleAdmin {
			return true
		}
	}
	return false
}
