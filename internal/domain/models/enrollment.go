package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Enrollment roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Enrollment is a user's membership in one classroom.
type Enrollment struct {
	ClassID primitive.ObjectID `bson:"classe" json:"classId"`
	Role    string             `bson:"role" json:"role"`
}

// UnmarshalBSONValue decodes both persisted shapes of a follow entry:
// the current {classe, role} document and the older bare classroom id.
// Anything that is not explicitly "admin" is a standard enrollment.
func (e *Enrollment) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.ObjectID:
		*e = Enrollment{ClassID: raw.ObjectID(), Role: RoleUser}
		return nil
	case bsontype.String:
		id, err := primitive.ObjectIDFromHex(raw.StringValue())
		if err != nil {
			return fmt.Errorf("enrollment: %w", err)
		}
		*e = Enrollment{ClassID: id, Role: RoleUser}
		return nil
	case bsontype.EmbeddedDocument:
		type plain Enrollment
		var p plain
		if err := raw.Unmarshal(&p); err != nil {
			return err
		}
		*e = Enrollment(p)
		if e.Role != RoleAdmin {
			e.Role = RoleUser
		}
		return nil
	default:
		return fmt.Errorf("enrollment: unsupported bson type %s", t)
	}
}

// ClassSummary is the id/name pair shown when choosing a classroom at login.
type ClassSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SplitEnrollments partitions follow entries into administered and followed
// classroom ids, de-duplicated and in first-seen order. An admin entry
// removes any standard entry for the same classroom.
func SplitEnrollments(follow []Enrollment) (admin, user []primitive.ObjectID) {
	isAdmin := make(map[primitive.ObjectID]bool)
	seenUser := make(map[primitive.ObjectID]bool)
	for _, e := range follow {
		if e.ClassID.IsZero() {
			continue
		}
		if e.Role == RoleAdmin {
			if !isAdmin[e.ClassID] {
				isAdmin[e.ClassID] = true
				admin = append(admin, e.ClassID)
			}
			continue
		}
		if !seenUser[e.ClassID] {
			seenUser[e.ClassID] = true
			user = append(user, e.ClassID)
		}
	}
	filtered := user[:0]
	for _, id := range user {
		if !isAdmin[id] {
			filtered = append(filtered, id)
		}
	}
	return admin, filtered
}
