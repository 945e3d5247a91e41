package classroomstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/classroll/internal/app/system/normalize"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/dalemusser/classroll/internal/domain/roster"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// exists distinguishes "classroom missing" from "precondition failed" after
// a conditional update matched nothing.
func (s *Store) exists(ctx context.Context, classID primitive.ObjectID) (bool, error) {
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": classID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) notFoundOr(ctx context.Context, classID primitive.ObjectID, otherwise error) error {
	ok, err := s.exists(ctx, classID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return otherwise
}

// maxAppendAttempts bounds the read-then-append retries when other writers
// keep changing the roster.
const maxAppendAttempts = 5

// rosterSize pins the roster length read before an append, so the append
// misses if any seat was added or removed in between.
func rosterSize(n int) bson.M {
	if n == 0 {
		return bson.M{"$or": bson.A{
			bson.M{"students": bson.M{"$size": 0}},
			bson.M{"students": bson.M{"$exists": false}},
			bson.M{"students": nil},
		}}
	}
	return bson.M{"students": bson.M{"$size": n}}
}

// appendSeats reads the roster, lets plan pick the seats to add, and pushes
// them with the roster length pinned. A miss re-reads and re-plans.
func (s *Store) appendSeats(ctx context.Context, classID primitive.ObjectID, plan func(existing []models.Seat) ([]models.Seat, error)) error {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		c, err := s.GetByID(ctx, classID)
		if err != nil {
			return err
		}
		add, err := plan(c.Students)
		if err != nil || len(add) == 0 {
			return err
		}
		filter := rosterSize(len(c.Students))
		filter["_id"] = classID
		res, err := s.c.UpdateOne(ctx, filter,
			bson.M{"$push": bson.M{"students": bson.M{"$each": add}}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return ErrRosterBusy
}

// AddSeat appends one seat to the roster unless a seat with the same names
// under match-key comparison is already present.
func (s *Store) AddSeat(ctx context.Context, classID primitive.ObjectID, seat models.Seat) (models.Seat, error) {
	seat.UserID = nil
	seat = newSeat(seat)
	err := s.appendSeats(ctx, classID, func(existing []models.Seat) ([]models.Seat, error) {
		if roster.FindSeat(existing, seat.Nom, seat.Prenom) >= 0 {
			return nil, ErrDuplicateSeat
		}
		return []models.Seat{seat}, nil
	})
	if err != nil {
		return models.Seat{}, err
	}
	return seat, nil
}

// ImportResult summarises a roster import.
type ImportResult struct {
	Added   []models.Seat
	Skipped []models.Seat // already on the roster, or repeated in the input
}

// ImportSeats appends the seats not already on the roster (compared by match
// key) in one write.
func (s *Store) ImportSeats(ctx context.Context, classID primitive.ObjectID, seats []models.Seat) (ImportResult, error) {
	var res ImportResult
	err := s.appendSeats(ctx, classID, func(existing []models.Seat) ([]models.Seat, error) {
		res = ImportResult{}
		seen := make(map[string]bool, len(existing)+len(seats))
		for _, st := range existing {
			seen[normalize.DedupKey(st.Nom, st.Prenom)] = true
		}
		for _, st := range seats {
			st.UserID = nil
			st = newSeat(st)
			key := normalize.DedupKey(st.Nom, st.Prenom)
			if st.Nom == "" || st.Prenom == "" || seen[key] {
				res.Skipped = append(res.Skipped, st)
				continue
			}
			seen[key] = true
			res.Added = append(res.Added, st)
		}
		return res.Added, nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// RemoveSeat deletes a seat and returns it as it was before removal, so the
// caller can release its owner. A positional reference also pins the names
// stored at that index.
func (s *Store) RemoveSeat(ctx context.Context, classID primitive.ObjectID, ref roster.SeatRef) (models.Seat, error) {
	var filter bson.M
	var update interface{}

	if ref.ByID() {
		filter = bson.M{"_id": classID, "students._id": ref.ID}
		update = bson.M{"$pull": bson.M{"students": bson.M{"_id": ref.ID}}}
	} else {
		if ref.Index < 0 {
			return models.Seat{}, ErrSeatNotFound
		}
		p := positional(ref.Index)
		filter = bson.M{"_id": classID, p + "nom": ref.Nom, p + "prenom": ref.Prenom}
		update = removeIndexPipeline(ref.Index)
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetProjection(bson.M{"students": 1})
	var before models.Classroom
	if err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Seat{}, s.notFoundOr(ctx, classID, ErrSeatNotFound)
		}
		return models.Seat{}, err
	}

	i := roster.Resolve(before.Students, ref)
	if i < 0 {
		return models.Seat{}, ErrInconsistentRoster
	}
	return before.Students[i], nil
}

// removeIndexPipeline rebuilds the roster without element i.
func removeIndexPipeline(i int) bson.A {
	return bson.A{
		bson.M{"$set": bson.M{
			"students": bson.M{"$map": bson.M{
				"input": bson.M{"$filter": bson.M{
					"input": bson.M{"$range": bson.A{0, bson.M{"$size": "$students"}}},
					"as":    "i",
					"cond":  bson.M{"$ne": bson.A{"$$i", i}},
				}},
				"as": "i",
				"in": bson.M{"$arrayElemAt": bson.A{"$students", "$$i"}},
			}},
		}},
	}
}

// RotateCode replaces the join code and its expiry.
func (s *Store) RotateCode(ctx context.Context, classID primitive.ObjectID, code string, expires time.Time) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": classID},
		bson.M{"$set": bson.M{"code": code, "codeExpires": expires}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive toggles whether the classroom accepts logins and joins.
func (s *Store) SetActive(ctx context.Context, classID primitive.ObjectID, active bool) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": classID}, bson.M{"$set": bson.M{"active": active}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GrantVisibility adds userID to the classroom's visibility exceptions.
func (s *Store) GrantVisibility(ctx context.Context, classID, userID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": classID}, bson.M{"$addToSet": bson.M{"visibleTo": userID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeVisibility removes userID from the classroom's visibility exceptions.
func (s *Store) RevokeVisibility(ctx context.Context, classID, userID primitive.ObjectID) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": classID}, bson.M{"$pull": bson.M{"visibleTo": userID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRepertoire appends a repertoire unless one with the same slug (or a
// legacy entry with the same name) exists.
func (s *Store) AddRepertoire(ctx context.Context, classID primitive.ObjectID, name string) (models.Repertoire, error) {
	name = normalize.Name(name)
	rep := models.Repertoire{Name: name, Slug: models.Slug(name), Teachers: []primitive.ObjectID{}}
	if rep.Slug == "" {
		return models.Repertoire{}, ErrInvalidRepertoireName
	}
	filter := bson.M{
		"_id":              classID,
		"repertoires.slug": bson.M{"$ne": rep.Slug},
		"repertoires":      bson.M{"$ne": name},
	}
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$push": bson.M{"repertoires": rep}})
	if err != nil {
		return models.Repertoire{}, err
	}
	if res.MatchedCount == 0 {
		return models.Repertoire{}, s.notFoundOr(ctx, classID, ErrDuplicateRepertoire)
	}
	return rep, nil
}

// AssignTeacher adds teacherID to the repertoire identified by slug. A legacy
// bare-string repertoire is upgraded to the document shape on first use.
func (s *Store) AssignTeacher(ctx context.Context, classID primitive.ObjectID, slug string, teacherID primitive.ObjectID) error {
	return s.assignTeacher(ctx, classID, slug, teacherID, true)
}

func (s *Store) assignTeacher(ctx context.Context, classID primitive.ObjectID, slug string, teacherID primitive.ObjectID, upgrade bool) error {
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"r.slug": slug}},
	})
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": classID, "repertoires.slug": slug},
		bson.M{"$addToSet": bson.M{"repertoires.$[r].teachers": teacherID}},
		opts)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if !upgrade {
		return s.notFoundOr(ctx, classID, ErrRepertoireNotFound)
	}

	c, err := s.GetByID(ctx, classID)
	if err != nil {
		return err
	}
	for _, r := range c.Repertoires {
		if r.Slug != slug {
			continue
		}
		upgraded := models.Repertoire{Name: r.Name, Slug: r.Slug, Teachers: []primitive.ObjectID{teacherID}}
		res, err := s.c.UpdateOne(ctx,
			bson.M{"_id": classID, "repertoires": r.Name},
			bson.M{"$set": bson.M{"repertoires.$": upgraded}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			// Upgraded concurrently; retry against the document shape.
			return s.assignTeacher(ctx, classID, slug, teacherID, false)
		}
		return nil
	}
	return ErrRepertoireNotFound
}

// UnassignTeacher removes teacherID from the repertoire identified by slug.
func (s *Store) UnassignTeacher(ctx context.Context, classID primitive.ObjectID, slug string, teacherID primitive.ObjectID) error {
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"r.slug": slug}},
	})
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": classID, "repertoires.slug": slug},
		bson.M{"$pull": bson.M{"repertoires.$[r].teachers": teacherID}},
		opts)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.notFoundOr(ctx, classID, ErrRepertoireNotFound)
	}
	return nil
}
