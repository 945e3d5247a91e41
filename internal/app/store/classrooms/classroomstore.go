package classroomstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/classroll/internal/app/system/normalize"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/dalemusser/classroll/internal/domain/roster"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the name of the classrooms collection.
const Collection = "classes"

var (
	// ErrInvalidClassroom is returned for a join code or classroom reference
	// that never existed, has expired, or points at an inactive classroom.
	// The three cases deliberately share one message.
	ErrInvalidClassroom = errors.New("this code is not or no longer valid")
	// ErrNotFound is returned by admin operations on an unknown classroom.
	ErrNotFound = errors.New("classroom not found")
	// ErrDuplicateDirectory is returned when the directory name is taken.
	ErrDuplicateDirectory = errors.New("a classroom with this directory name already exists")
	// ErrDuplicateSeat is returned when a roster already has a seat with the same names.
	ErrDuplicateSeat = errors.New("a seat with these names already exists in the roster")
	// ErrSeatNotFound is returned when a seat reference no longer resolves.
	ErrSeatNotFound = errors.New("seat not found")
	// ErrDuplicateRepertoire is returned when a repertoire slug is taken.
	ErrDuplicateRepertoire = errors.New("a repertoire with this name already exists")
	// ErrRepertoireNotFound is returned for an unknown repertoire slug.
	ErrRepertoireNotFound = errors.New("repertoire not found")
	// ErrInvalidRepertoireName is returned when a name has no usable characters.
	ErrInvalidRepertoireName = errors.New("repertoire name has no usable characters")
	// ErrRosterBusy is returned when the roster kept changing between the read
	// and the conditional append.
	ErrRosterBusy = errors.New("the roster changed while it was being updated; try again")
)

// Seat matching errors are defined next to the matching rules.
var (
	ErrNoMatchingSeat     = roster.ErrNoMatchingSeat
	ErrSeatUnavailable    = roster.ErrSeatUnavailable
	ErrInconsistentRoster = roster.ErrInconsistentRoster
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

// Create inserts a classroom. Seats receive stable ids and stored-form names.
func (s *Store) Create(ctx context.Context, c models.Classroom) (models.Classroom, error) {
	c.ID = primitive.NewObjectID()
	c.DirectoryName = strings.ToLower(strings.TrimSpace(c.DirectoryName))
	c.PublicName = normalize.Name(c.PublicName)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	for i := range c.Students {
		c.Students[i] = newSeat(c.Students[i])
	}
	if c.Students == nil {
		c.Students = []models.Seat{}
	}
	if c.Repertoires == nil {
		c.Repertoires = []models.Repertoire{}
	}
	if _, err := s.c.InsertOne(ctx, c); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Classroom{}, ErrDuplicateDirectory
		}
		return models.Classroom{}, err
	}
	return c, nil
}

func newSeat(seat models.Seat) models.Seat {
	if seat.ID.IsZero() {
		seat.ID = primitive.NewObjectID()
	}
	seat.Nom = normalize.Surname(seat.Nom)
	seat.Prenom = normalize.GivenName(seat.Prenom)
	seat.Email = normalize.Email(seat.Email)
	if seat.UserID == nil {
		seat.Free = models.BoolPtr(true)
	}
	return seat
}

// GetByID loads a classroom regardless of its active flag or code.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Classroom, error) {
	var c models.Classroom
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListActiveByIDs returns the active classrooms among ids, keyed by id.
func (s *Store) ListActiveByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Classroom, error) {
	out := make(map[primitive.ObjectID]models.Classroom, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1, "publicname": 1, "directoryname": 1, "active": 1, "repertoires": 1})
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var c models.Classroom
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, cur.Err()
}

// codeCandidates returns the lookup variants of a user-typed code: as typed,
// upper-case and lower-case, without duplicates.
func codeCandidates(code string) []string {
	code = normalize.Code(code)
	if code == "" {
		return nil
	}
	out := []string{code}
	for _, v := range []string{strings.ToUpper(code), strings.ToLower(code)} {
		dup := false
		for _, o := range out {
			if o == v {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}

// ResolveCode maps a join code to its classroom. The code must be unexpired
// at now and the classroom active; every failure returns ErrInvalidClassroom.
func (s *Store) ResolveCode(ctx context.Context, code string, now time.Time) (*models.Classroom, error) {
	candidates := codeCandidates(code)
	if len(candidates) == 0 {
		return nil, ErrInvalidClassroom
	}
	filter := bson.M{
		"code":        bson.M{"$in": candidates},
		"codeExpires": bson.M{"$gt": now},
		"active":      true,
	}
	var c models.Classroom
	if err := s.c.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidClassroom
		}
		return nil, err
	}
	return &c, nil
}

// loadJoinable loads a classroom that currently accepts joins: active with an
// unexpired code. Expiry is re-checked here because matching can happen long
// after the code was first resolved.
func (s *Store) loadJoinable(ctx context.Context, classID primitive.ObjectID, now time.Time) (*models.Classroom, error) {
	if classID.IsZero() {
		return nil, ErrInvalidClassroom
	}
	filter := bson.M{
		"_id":         classID,
		"active":      true,
		"codeExpires": bson.M{"$gt": now},
	}
	var c models.Classroom
	if err := s.c.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidClassroom
		}
		return nil, err
	}
	return &c, nil
}

// MatchSeat finds the seat for (nom, prenom) in a joinable classroom and
// checks it may be claimed by userID. A zero userID checks availability for
// a brand-new account.
func (s *Store) MatchSeat(ctx context.Context, classID primitive.ObjectID, nom, prenom string, userID primitive.ObjectID, now time.Time) (roster.SeatRef, error) {
	c, err := s.loadJoinable(ctx, classID, now)
	if err != nil {
		return roster.SeatRef{}, err
	}
	return roster.Match(c.Students, nom, prenom, userID)
}

// ClaimResult describes a successful claim.
type ClaimResult struct {
	Seat roster.SeatRef
	// AlreadyOwned is true when the seat was bound to the user before this
	// call, e.g. a retried request.
	AlreadyOwned bool
}

// ClaimSeat binds the seat matching (nom, prenom) to userID.
//
// The write is a single conditional update whose filter restates the
// availability rule on the exact seat, so two concurrent claims for one free
// seat cannot both succeed. When the write matches nothing the roster is
// re-read: a seat already bound to userID is reported as success, anything
// else as ErrSeatUnavailable.
func (s *Store) ClaimSeat(ctx context.Context, classID primitive.ObjectID, nom, prenom string, userID primitive.ObjectID, now time.Time) (ClaimResult, error) {
	if userID.IsZero() {
		return ClaimResult{}, errors.New("claim seat: zero user id")
	}
	ref, err := s.MatchSeat(ctx, classID, nom, prenom, userID, now)
	if err != nil {
		return ClaimResult{}, err
	}

	filter, update, opts, err := claimWrite(classID, ref, userID, now)
	if err != nil {
		return ClaimResult{}, err
	}

	res, err := s.c.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return ClaimResult{}, err
	}
	if res.MatchedCount == 1 {
		return ClaimResult{Seat: ref, AlreadyOwned: res.ModifiedCount == 0}, nil
	}

	// Lost the race, or the classroom stopped accepting joins in between.
	owned, err := s.seatOwnedBy(ctx, classID, ref, userID)
	if err != nil {
		return ClaimResult{}, err
	}
	if owned {
		return ClaimResult{Seat: ref, AlreadyOwned: true}, nil
	}
	return ClaimResult{}, ErrSeatUnavailable
}

// availableTo is the availability rule as a query on a seat document whose
// fields are reached through prefix ("" inside $elemMatch, "students.N."
// for positional addressing).
func availableTo(prefix string, userID primitive.ObjectID) bson.A {
	return bson.A{
		bson.M{prefix + "free": bson.M{"$ne": false}, prefix + "id_user": nil},
		bson.M{prefix + "id_user": userID},
	}
}

func claimWrite(classID primitive.ObjectID, ref roster.SeatRef, userID primitive.ObjectID, now time.Time) (bson.M, bson.M, *options.UpdateOptions, error) {
	filter := bson.M{
		"_id":         classID,
		"active":      true,
		"codeExpires": bson.M{"$gt": now},
	}

	if ref.ByID() {
		filter["students"] = bson.M{"$elemMatch": bson.M{
			"_id": ref.ID,
			"$or": availableTo("", userID),
		}}
		update := bson.M{"$set": bson.M{
			"students.$[s].free":    false,
			"students.$[s].id_user": userID,
		}}
		opts := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"s._id": ref.ID}},
		})
		return filter, update, opts, nil
	}

	if ref.Index < 0 {
		return nil, nil, nil, ErrInconsistentRoster
	}
	p := positional(ref.Index)
	filter[p+"nom"] = ref.Nom
	filter[p+"prenom"] = ref.Prenom
	filter["$or"] = availableTo(p, userID)
	update := bson.M{"$set": bson.M{
		p + "free":    false,
		p + "id_user": userID,
	}}
	return filter, update, options.Update(), nil
}

// seatOwnedBy re-reads the roster and reports whether the referenced seat is
// bound to userID. The classroom's active flag and code are not consulted:
// a seat the user already holds stays theirs.
func (s *Store) seatOwnedBy(ctx context.Context, classID primitive.ObjectID, ref roster.SeatRef, userID primitive.ObjectID) (bool, error) {
	var c models.Classroom
	opts := options.FindOne().SetProjection(bson.M{"students": 1})
	if err := s.c.FindOne(ctx, bson.M{"_id": classID}, opts).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, ErrInvalidClassroom
		}
		return false, err
	}
	i := roster.Resolve(c.Students, ref)
	if i < 0 {
		return false, nil
	}
	return c.Students[i].OwnedBy(userID), nil
}

// SeatOf returns the seat bound to userID in classID, if any.
func (s *Store) SeatOf(ctx context.Context, classID, userID primitive.ObjectID) (*models.Seat, error) {
	var c models.Classroom
	opts := options.FindOne().SetProjection(bson.M{"students": 1})
	if err := s.c.FindOne(ctx, bson.M{"_id": classID}, opts).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	i := roster.OwnedIndex(c.Students, userID)
	if i < 0 {
		return nil, nil
	}
	seat := c.Students[i]
	return &seat, nil
}

// DetachUser removes every trace of userID from one classroom in a single
// update: seats it owns are released, and it is pulled from the visibility
// exceptions and from every repertoire's teacher set. Idempotent.
func (s *Store) DetachUser(ctx context.Context, classID, userID primitive.ObjectID) error {
	update := bson.M{
		"$set": bson.M{
			"students.$[s].free":    true,
			"students.$[s].id_user": nil,
		},
		"$pull": bson.M{
			"visibleTo":                 userID,
			"repertoires.$[r].teachers": userID,
		},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"s.id_user": userID},
			bson.M{"r.teachers": userID},
		},
	})
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": classID}, update, opts)
	return err
}

// ClassesReferencing returns the ids of classrooms where userID owns a seat,
// holds a visibility exception or teaches a repertoire.
func (s *Store) ClassesReferencing(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"students.id_user": userID},
		bson.M{"visibleTo": userID},
		bson.M{"repertoires.teachers": userID},
	}}
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var ids []primitive.ObjectID
	for cur.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}
