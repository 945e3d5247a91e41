package models

import (
	"fmt"
	"strings"

	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Repertoire is a named sub-resource of a classroom with its own set of
// assigned teachers.
type Repertoire struct {
	Name     string               `bson:"name" json:"name"`
	Slug     string               `bson:"slug" json:"slug"`
	Teachers []primitive.ObjectID `bson:"teachers" json:"teachers"`
}

// UnmarshalBSONValue accepts both the current document shape and the older
// bare-string shape, which carried only the name.
func (r *Repertoire) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.String:
		name := raw.StringValue()
		*r = Repertoire{Name: name, Slug: Slug(name)}
		return nil
	case bsontype.EmbeddedDocument:
		type plain Repertoire
		var p plain
		if err := raw.Unmarshal(&p); err != nil {
			return err
		}
		*r = Repertoire(p)
		if r.Slug == "" {
			r.Slug = Slug(r.Name)
		}
		return nil
	default:
		return fmt.Errorf("repertoire: unsupported bson type %s", t)
	}
}

// HasTeacher reports whether id is assigned to the repertoire.
func (r Repertoire) HasTeacher(id primitive.ObjectID) bool {
	for _, t := range r.Teachers {
		if t == id {
			return true
		}
	}
	return false
}

// Slug folds a repertoire name into its URL/claim form:
// accents stripped, lower-case, runs of non-alphanumerics collapsed to "-".
func Slug(name string) string {
	folded := text.Fold(name)
	var b strings.Builder
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
