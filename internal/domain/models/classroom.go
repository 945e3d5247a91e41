// internal/domain/models/classroom.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Classroom is a teacher-managed class with a roster of named seats.
//
// Field names match the documents already stored in the "classes"
// collection; do not rename them without a migration.
type Classroom struct {
	ID            primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	DirectoryName string               `bson:"directoryname" json:"directoryName"` // unique, lower-case
	PublicName    string               `bson:"publicname" json:"publicName"`
	CreatedAt     time.Time            `bson:"date" json:"date"`
	Code          string               `bson:"code,omitempty" json:"-"`
	CodeExpires   *time.Time           `bson:"codeExpires,omitempty" json:"-"`
	Active        bool                 `bson:"active" json:"active"`
	Students      []Seat               `bson:"students" json:"students"`
	Repertoires   []Repertoire         `bson:"repertoires" json:"repertoires"`
	VisibleTo     []primitive.ObjectID `bson:"visibleTo,omitempty" json:"visibleTo,omitempty"`
}

// CodeValid reports whether the join code is usable at now.
func (c *Classroom) CodeValid(now time.Time) bool {
	return c.Active && c.Code != "" && c.CodeExpires != nil && c.CodeExpires.After(now)
}

// Seat is one pre-registered roster slot.
//
// Free is a pointer because legacy seats omit the field, and a missing value
// means the seat is available. Use IsFree rather than reading Free directly.
type Seat struct {
	ID     primitive.ObjectID  `bson:"_id,omitempty" json:"id,omitempty"`
	Nom    string              `bson:"nom" json:"nom"`       // UPPER, no accents
	Prenom string              `bson:"prenom" json:"prenom"` // lower, no accents
	Email  string              `bson:"email" json:"email,omitempty"`
	Free   *bool               `bson:"free,omitempty" json:"free"`
	UserID *primitive.ObjectID `bson:"id_user" json:"userId,omitempty"`
}

// IsFree reports whether the seat is unclaimed: free is not explicitly false
// and no owner is recorded.
func (s Seat) IsFree() bool {
	return (s.Free == nil || *s.Free) && s.UserID == nil
}

// Claimed reports whether the seat is consistently claimed.
func (s Seat) Claimed() bool {
	return s.Free != nil && !*s.Free && s.UserID != nil
}

// OwnedBy reports whether the seat is bound to userID.
func (s Seat) OwnedBy(userID primitive.ObjectID) bool {
	return s.UserID != nil && *s.UserID == userID
}

// HasStableID reports whether the seat carries its own sub-document id.
// Seats imported before ids were assigned do not.
func (s Seat) HasStableID() bool {
	return !s.ID.IsZero()
}

// BoolPtr is a helper for setting Seat.Free.
func BoolPtr(b bool) *bool { return &b }
