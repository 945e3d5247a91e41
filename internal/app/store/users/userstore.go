package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/classroll/internal/app/system/normalize"
	"github.com/dalemusser/classroll/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is the name of the users collection.
const Collection = "users"

var (
	// ErrDuplicateEmail is returned when attempting to create a user with an email that already exists.
	ErrDuplicateEmail = errors.New("this email is already in use")
	// ErrDuplicateIdentity is returned when another account has the same names.
	ErrDuplicateIdentity = errors.New("a user with these names is already registered")
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(Collection)}
}

func decodeOne(res *mongo.SingleResult) (*models.User, error) {
	var u models.User
	if err := res.Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// notLapsed excludes pending signups whose window has passed. Such accounts
// are waiting for the sweep and must behave as if they did not exist.
func notLapsed(now time.Time) bson.A {
	return bson.A{
		bson.M{"isVerified": true},
		bson.M{"signupExpiresAt": nil},
		bson.M{"signupExpiresAt": bson.M{"$gt": now}},
	}
}

// GetByID loads a user by ObjectID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return decodeOne(s.c.FindOne(ctx, bson.M{"_id": id}))
}

// GetByEmail looks up a live account by email. Lapsed pending signups are
// reported as ErrNotFound.
func (s *Store) GetByEmail(ctx context.Context, email string, now time.Time) (*models.User, error) {
	return decodeOne(s.c.FindOne(ctx, bson.M{
		"email": normalize.Email(email),
		"$or":   notLapsed(now),
	}))
}

// GetActiveByEmail looks up an active account by email.
func (s *Store) GetActiveByEmail(ctx context.Context, email string, now time.Time) (*models.User, error) {
	return decodeOne(s.c.FindOne(ctx, bson.M{
		"email":  normalize.Email(email),
		"active": true,
		"$or":    notLapsed(now),
	}))
}

// IdentityTaken reports whether a live account other than excludeID holds
// the dedup key for (nom, prenom).
func (s *Store) IdentityTaken(ctx context.Context, nom, prenom string, excludeID primitive.ObjectID, now time.Time) (bool, error) {
	filter := bson.M{
		"dedupKey": normalize.DedupKey(nom, prenom),
		"$or":      notLapsed(now),
	}
	if !excludeID.IsZero() {
		filter["_id"] = bson.M{"$ne": excludeID}
	}
	n, err := s.c.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create inserts a new account after normalizing names and email and
// computing the dedup key.
func (s *Store) Create(ctx context.Context, u models.User) (models.User, error) {
	u.ID = primitive.NewObjectID()
	u.Nom = normalize.Surname(u.Nom)
	u.Prenom = normalize.GivenName(u.Prenom)
	u.DedupKey = normalize.DedupKey(u.Nom, u.Prenom)
	u.Email = normalize.Email(u.Email)
	if u.Status == "" {
		u.Status = models.StatusStudent
	}
	if u.Follow == nil {
		u.Follow = []models.Enrollment{}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return models.User{}, s.whichDuplicate(ctx, u.Email)
		}
		return models.User{}, err
	}
	return u, nil
}

func (s *Store) whichDuplicate(ctx context.Context, email string) error {
	n, err := s.c.CountDocuments(ctx, bson.M{"email": email}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicateEmail
	}
	return ErrDuplicateIdentity
}

// PurgeLapsedSignups deletes pending signups past their window that hold
// email or the dedup key of (nom, prenom), so a fresh signup can reuse them.
func (s *Store) PurgeLapsedSignups(ctx context.Context, email, nom, prenom string, now time.Time) (int64, error) {
	or := bson.A{bson.M{"email": normalize.Email(email)}}
	if nom != "" || prenom != "" {
		or = append(or, bson.M{"dedupKey": normalize.DedupKey(nom, prenom)})
	}
	res, err := s.c.DeleteMany(ctx, bson.M{
		"isVerified":      false,
		"signupExpiresAt": bson.M{"$lte": now},
		"$or":             or,
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteLapsedSignups removes every pending signup whose window has passed.
func (s *Store) DeleteLapsedSignups(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{
		"isVerified":      false,
		"signupExpiresAt": bson.M{"$lte": now},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// SetConfirmCode stores a new hashed code and its expiry and resets the
// attempt counter. When signupUntil is non-nil the pending-signup window is
// extended to at least that time.
func (s *Store) SetConfirmCode(ctx context.Context, id primitive.ObjectID, hash string, expires time.Time, signupUntil *time.Time) error {
	set := bson.M{
		"confirm":         hash,
		"confirmExpires":  expires,
		"confirmAttempts": 0,
	}
	update := bson.M{"$set": set}
	if signupUntil != nil {
		update["$max"] = bson.M{"signupExpiresAt": *signupUntil}
	}
	filter := bson.M{"_id": id}
	if signupUntil != nil {
		filter["isVerified"] = false
		filter["signupExpiresAt"] = bson.M{"$ne": nil}
	}
	res, err := s.c.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementConfirmAttempts records a failed code entry and returns the new count.
func (s *Store) IncrementConfirmAttempts(ctx context.Context, id primitive.ObjectID) (int, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"confirmAttempts": 1})
	var out struct {
		Attempts int `bson:"confirmAttempts"`
	}
	err := s.c.FindOneAndUpdate(ctx, bson.M{"_id": id},
		bson.M{"$inc": bson.M{"confirmAttempts": 1}}, opts).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return out.Attempts, nil
}

// ClearConfirmCode removes any outstanding code.
func (s *Store) ClearConfirmCode(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$unset": bson.M{
		"confirm": "", "confirmExpires": "", "confirmAttempts": "",
	}})
	return err
}

// MarkVerified flips an unverified account to verified, clears the code and
// removes the pending-signup expiry. It reports false when the account was
// already verified.
func (s *Store) MarkVerified(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "isVerified": false},
		bson.M{
			"$set":   bson.M{"isVerified": true},
			"$unset": bson.M{"confirm": "", "confirmExpires": "", "confirmAttempts": "", "signupExpiresAt": ""},
		})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

// SetPassword replaces the password hash and clears any outstanding code.
func (s *Store) SetPassword(ctx context.Context, id primitive.ObjectID, hash string) error {
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"password": hash},
		"$unset": bson.M{"confirm": "", "confirmExpires": "", "confirmAttempts": ""},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// AddEnrollment appends a standard enrollment for classID unless the user
// already has one in either persisted shape, or an admin entry. It reports
// whether an entry was added.
func (s *Store) AddEnrollment(ctx context.Context, userID, classID primitive.ObjectID) (bool, error) {
	filter := bson.M{
		"_id":           userID,
		"follow.classe": bson.M{"$ne": classID},
		"follow":        bson.M{"$ne": classID},
	}
	res, err := s.c.UpdateOne(ctx, filter, bson.M{"$push": bson.M{
		"follow": models.Enrollment{ClassID: classID, Role: models.RoleUser},
	}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := s.c.CountDocuments(ctx, bson.M{"_id": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// RemoveEnrollment drops every follow entry for classID, whichever shape it
// was stored in, in a single pipeline update. It reports whether anything
// was removed.
func (s *Store) RemoveEnrollment(ctx context.Context, userID, classID primitive.ObjectID) (bool, error) {
	pipeline := bson.A{
		bson.M{"$set": bson.M{"follow": followWithout(classID)}},
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": userID}, pipeline)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, ErrNotFound
	}
	return res.ModifiedCount == 1, nil
}

// followWithout is the follow array minus every entry for classID, in
// either persisted shape.
func followWithout(classID primitive.ObjectID) bson.M {
	return bson.M{"$filter": bson.M{
		"input": bson.M{"$ifNull": bson.A{"$follow", bson.A{}}},
		"as":    "f",
		"cond": bson.M{"$and": bson.A{
			bson.M{"$ne": bson.A{"$$f", classID}},
			bson.M{"$ne": bson.A{"$$f.classe", classID}},
		}},
	}}
}

// SetAdmin records userID as administrator of classID. Any entry for the
// classroom is replaced by one admin entry in a single pipeline update, so
// concurrent grants and enrollments never leave two entries.
func (s *Store) SetAdmin(ctx context.Context, userID, classID primitive.ObjectID) error {
	admin := bson.D{{Key: "classe", Value: classID}, {Key: "role", Value: models.RoleAdmin}}
	pipeline := bson.A{
		bson.M{"$set": bson.M{"follow": bson.M{"$concatArrays": bson.A{
			followWithout(classID),
			bson.A{admin},
		}}}},
	}
	res, err := s.c.UpdateOne(ctx, bson.M{"_id": userID}, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an account. It reports whether a document was deleted.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

// DeletePendingSignup removes an account only while it is an unverified
// self-service signup.
func (s *Store) DeletePendingSignup(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{
		"_id":             id,
		"isVerified":      false,
		"signupExpiresAt": bson.M{"$ne": nil},
	})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}
