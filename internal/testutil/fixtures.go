package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	classroomstore "github.com/dalemusser/classroll/internal/app/store/classrooms"
	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"
)

// TestPassword satisfies the password rules; fixtures hash it at MinCost.
const TestPassword = "Abcd!1234"

// WithChiURLParam adds a chi URL parameter to the request context.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}
	rctx.URLParams.Add(key, value)
	return r
}

// Fixtures creates test data through the real stores.
type Fixtures struct {
	db      *mongo.Database
	t       *testing.T
	classes *classroomstore.Store
	users   *userstore.Store
}

func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t, classes: classroomstore.New(db), users: userstore.New(db)}
}

func (f *Fixtures) DB() *mongo.Database { return f.db }

// Seat builds an unclaimed seat.
func Seat(nom, prenom string) models.Seat {
	return models.Seat{Nom: nom, Prenom: prenom}
}

// CreateClassroom creates an active classroom with join code "AB12" valid
// for ten minutes.
func (f *Fixtures) CreateClassroom(ctx context.Context, name string, seats ...models.Seat) models.Classroom {
	f.t.Helper()
	return f.CreateClassroomWithCode(ctx, name, "AB12", time.Now().Add(10*time.Minute), seats...)
}

func (f *Fixtures) CreateClassroomWithCode(ctx context.Context, name, code string, expires time.Time, seats ...models.Seat) models.Classroom {
	f.t.Helper()
	c, err := f.classes.Create(ctx, models.Classroom{
		DirectoryName: name + "-" + primitive.NewObjectID().Hex(),
		PublicName:    name,
		Code:          code,
		CodeExpires:   &expires,
		Active:        true,
		Students:      seats,
	})
	if err != nil {
		f.t.Fatalf("failed to create test classroom: %v", err)
	}
	return c
}

func hashPassword(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(h)
}

// CreateUser creates a verified, active student account with TestPassword.
func (f *Fixtures) CreateUser(ctx context.Context, nom, prenom, email string) models.User {
	f.t.Helper()
	u, err := f.users.Create(ctx, models.User{
		Nom:          nom,
		Prenom:       prenom,
		Email:        email,
		PasswordHash: hashPassword(f.t, TestPassword),
		IsVerified:   true,
		Active:       true,
	})
	if err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}
	return u
}

// CreateTeacher creates a verified teacher who administers classIDs.
func (f *Fixtures) CreateTeacher(ctx context.Context, nom, prenom, email string, classIDs ...primitive.ObjectID) models.User {
	f.t.Helper()
	follow := make([]models.Enrollment, 0, len(classIDs))
	for _, id := range classIDs {
		follow = append(follow, models.Enrollment{ClassID: id, Role: models.RoleAdmin})
	}
	u, err := f.users.Create(ctx, models.User{
		Nom:          nom,
		Prenom:       prenom,
		Email:        email,
		PasswordHash: hashPassword(f.t, TestPassword),
		IsVerified:   true,
		Active:       true,
		Status:       models.StatusTeacher,
		Follow:       follow,
	})
	if err != nil {
		f.t.Fatalf("failed to create test teacher: %v", err)
	}
	return u
}

// CreatePendingSignup creates an unverified signup whose code hash matches
// code and whose windows end at codeExpires and signupExpires.
func (f *Fixtures) CreatePendingSignup(ctx context.Context, nom, prenom, email, code string, codeExpires, signupExpires time.Time) models.User {
	f.t.Helper()
	u, err := f.users.Create(ctx, models.User{
		Nom:             nom,
		Prenom:          prenom,
		Email:           email,
		PasswordHash:    hashPassword(f.t, TestPassword),
		ConfirmHash:     hashPassword(f.t, code),
		ConfirmExpires:  &codeExpires,
		SignupExpiresAt: &signupExpires,
		Active:          true,
	})
	if err != nil {
		f.t.Fatalf("failed to create pending signup: %v", err)
	}
	return u
}

// Classroom reloads a classroom.
func (f *Fixtures) Classroom(ctx context.Context, id primitive.ObjectID) *models.Classroom {
	f.t.Helper()
	c, err := f.classes.GetByID(ctx, id)
	if err != nil {
		f.t.Fatalf("reload classroom: %v", err)
	}
	return c
}

// User reloads a user, or returns nil when it no longer exists.
func (f *Fixtures) User(ctx context.Context, id primitive.ObjectID) *models.User {
	f.t.Helper()
	u, err := f.users.GetByID(ctx, id)
	if err == userstore.ErrNotFound {
		return nil
	}
	if err != nil {
		f.t.Fatalf("reload user: %v", err)
	}
	return u
}
