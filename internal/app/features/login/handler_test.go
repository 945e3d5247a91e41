package login_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/classroll/internal/app/features/login"
	classroomstore "github.com/dalemusser/classroll/internal/app/store/classrooms"
	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	"github.com/dalemusser/classroll/internal/app/system/mailer"
	signupsvc "github.com/dalemusser/classroll/internal/app/system/signup"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/dalemusser/classroll/internal/testutil"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type env struct {
	h      *login.Handler
	tokens *auth.Manager
	fx     *testutil.Fixtures
	users  *userstore.Store
}

func setup(t *testing.T) env {
	t.Helper()
	client, db := testutil.SetupTestClient(t)
	log := zap.NewNop()
	enroll := enrollment.New(client, db, log, nil)
	accounts := signupsvc.New(db, enroll, mailer.LogSender{Log: log}, signupsvc.BcryptHasher{Cost: bcrypt.MinCost}, signupsvc.Config{}, log, nil)
	tokens := testutil.TokenManager(t)
	return env{
		h:      login.NewHandler(db, accounts, tokens, nil, nil, log),
		tokens: tokens,
		fx:     testutil.NewFixtures(t, db),
		users:  userstore.New(db),
	}
}

func (e env) serve(t *testing.T, r *http.Request) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	login.Routes(e.h, e.tokens.RequireAuth).ServeHTTP(rec, r)
	return rec
}

func credentials(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

type loginBody struct {
	TeachersClasses []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"teachersClasses"`
	FollowedClasses []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"followedClasses"`
}

func TestLogin_Rejections(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	e.fx.CreatePendingSignup(ctx, "Durand", "Alice", "alice@test.com", "ABCD", time.Now().Add(time.Hour), time.Now().Add(time.Hour))

	tests := []struct {
		name   string
		body   map[string]string
		status int
	}{
		{"wrong password", credentials("elodie@test.com", "Wrong!1234"), http.StatusUnauthorized},
		{"unknown email", credentials("nobody@test.com", testutil.TestPassword), http.StatusUnauthorized},
		{"unverified", credentials("alice@test.com", testutil.TestPassword), http.StatusUnauthorized},
		{"missing password", map[string]string{"email": "elodie@test.com"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.serve(t, testutil.JSONRequest(t, http.MethodPost, "/login", tt.body))
			rec.AssertStatus(t, tt.status)
			if rec.Cookie(auth.PendingCookie) != nil && rec.Cookie(auth.PendingCookie).Value != "" {
				t.Error("pending cookie set on a rejected login")
			}
		})
	}
}

func TestLogin_ListsClasses(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	taught := e.fx.CreateClassroom(ctx, "CM2 A")
	followed := e.fx.CreateClassroom(ctx, "CM2 B")
	closed := e.fx.CreateClassroom(ctx, "Closed")
	if err := classroomstore.New(e.fx.DB()).SetActive(ctx, closed.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	u := e.fx.CreateTeacher(ctx, "Martin", "Paul", "paul@test.com", taught.ID)
	for _, id := range []models.Classroom{taught, followed, closed} {
		if _, err := e.users.AddEnrollment(ctx, u.ID, id.ID); err != nil {
			t.Fatalf("AddEnrollment: %v", err)
		}
	}

	rec := e.serve(t, testutil.JSONRequest(t, http.MethodPost, "/login", credentials("paul@test.com", testutil.TestPassword)))
	rec.AssertStatus(t, http.StatusOK)

	var got loginBody
	rec.DecodeJSON(t, &got)
	if len(got.TeachersClasses) != 1 || got.TeachersClasses[0].ID != taught.ID.Hex() {
		t.Errorf("teachersClasses = %+v, want only %s", got.TeachersClasses, taught.PublicName)
	}
	if len(got.FollowedClasses) != 1 || got.FollowedClasses[0].ID != followed.ID.Hex() {
		t.Errorf("followedClasses = %+v, want only %s", got.FollowedClasses, followed.PublicName)
	}
	if ck := rec.Cookie(auth.PendingCookie); ck == nil || ck.Value == "" || ck.MaxAge != 600 {
		t.Errorf("pending cookie = %+v, want a 10 minute token", ck)
	}
}

func TestLogin_NoClasses(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")

	rec := e.serve(t, testutil.JSONRequest(t, http.MethodPost, "/login", credentials("ELODIE@test.com", testutil.TestPassword)))
	rec.AssertStatus(t, http.StatusOK)
	var got loginBody
	rec.DecodeJSON(t, &got)
	if len(got.TeachersClasses) != 0 || len(got.FollowedClasses) != 0 {
		t.Errorf("got classes %+v", got)
	}
	if ck := rec.Cookie(auth.PendingCookie); ck == nil || ck.MaxAge >= 0 {
		t.Errorf("pending cookie = %+v, want it cleared", ck)
	}
}

func pendingRequest(t *testing.T, e env, u models.User, classID string) *http.Request {
	t.Helper()
	tok, err := e.tokens.IssuePending(u.ID.Hex(), u.Email)
	if err != nil {
		t.Fatalf("IssuePending: %v", err)
	}
	r := testutil.JSONRequest(t, http.MethodPost, "/login/select-class", map[string]string{"classId": classID})
	r.AddCookie(&http.Cookie{Name: auth.PendingCookie, Value: tok})
	return r
}

func TestSelectClass(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := e.fx.CreateClassroom(ctx, "CM2 A")
	other := e.fx.CreateClassroom(ctx, "CM2 B")
	u := e.fx.CreateTeacher(ctx, "Martin", "Paul", "paul@test.com", c.ID)

	t.Run("success", func(t *testing.T) {
		rec := e.serve(t, pendingRequest(t, e, u, c.ID.Hex()))
		rec.AssertStatus(t, http.StatusOK)
		rec.AssertContains(t, `"role":"admin"`)

		ck := rec.Cookie(auth.SessionCookie)
		if ck == nil || ck.Value == "" {
			t.Fatal("session cookie not set")
		}
		if p := rec.Cookie(auth.PendingCookie); p == nil || p.MaxAge >= 0 {
			t.Error("pending cookie not cleared")
		}

		claims, err := e.tokens.Parse(ck.Value)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if claims.ClassID != c.ID.Hex() || claims.Role != models.RoleAdmin {
			t.Errorf("claims = %+v", claims)
		}
	})

	t.Run("not enrolled", func(t *testing.T) {
		rec := e.serve(t, pendingRequest(t, e, u, other.ID.Hex()))
		rec.AssertStatus(t, http.StatusForbidden)
	})

	t.Run("no pending cookie", func(t *testing.T) {
		r := testutil.JSONRequest(t, http.MethodPost, "/login/select-class", map[string]string{"classId": c.ID.Hex()})
		rec := e.serve(t, r)
		rec.AssertStatus(t, http.StatusUnauthorized)
	})

	t.Run("session token instead of pending", func(t *testing.T) {
		tok, _ := e.tokens.IssueSession(testutil.SessionFor(u, c, models.RoleAdmin))
		r := testutil.JSONRequest(t, http.MethodPost, "/login/select-class", map[string]string{"classId": c.ID.Hex()})
		r.AddCookie(&http.Cookie{Name: auth.PendingCookie, Value: tok})
		rec := e.serve(t, r)
		rec.AssertStatus(t, http.StatusForbidden)
	})

	t.Run("inactive classroom", func(t *testing.T) {
		if err := classroomstore.New(e.fx.DB()).SetActive(ctx, c.ID, false); err != nil {
			t.Fatalf("SetActive: %v", err)
		}
		rec := e.serve(t, pendingRequest(t, e, u, c.ID.Hex()))
		rec.AssertStatus(t, http.StatusNotFound)
	})
}

func TestSelectClass_RepertoireScope(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := e.fx.CreateClassroom(ctx, "CM2 A")
	u := e.fx.CreateUser(ctx, "Martin", "Paul", "paul@test.com")
	classes := classroomstore.New(e.fx.DB())
	rep, err := classes.AddRepertoire(ctx, c.ID, "Sciences")
	if err != nil {
		t.Fatalf("AddRepertoire: %v", err)
	}
	if err := classes.AssignTeacher(ctx, c.ID, rep.Slug, u.ID); err != nil {
		t.Fatalf("AssignTeacher: %v", err)
	}
	if _, err := e.users.AddEnrollment(ctx, u.ID, c.ID); err != nil {
		t.Fatalf("AddEnrollment: %v", err)
	}

	rec := e.serve(t, pendingRequest(t, e, u, c.ID.Hex()))
	rec.AssertStatus(t, http.StatusOK)
	claims, err := e.tokens.Parse(rec.Cookie(auth.SessionCookie).Value)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(claims.AdminRepertoires) != 1 || claims.AdminRepertoires[0] != rep.Slug {
		t.Errorf("adminRepertoires = %v, want [%s]", claims.AdminRepertoires, rep.Slug)
	}
}

func TestLogoutAndMe(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := e.fx.CreateClassroom(ctx, "CM2")
	u := e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	tok, err := e.tokens.IssueSession(testutil.SessionFor(u, c, models.RoleUser))
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	r := testutil.JSONRequest(t, http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: tok})
	rec := e.serve(t, r)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"email":"elodie@test.com"`)

	rec = e.serve(t, testutil.JSONRequest(t, http.MethodGet, "/me", nil))
	rec.AssertStatus(t, http.StatusUnauthorized)

	r = testutil.JSONRequest(t, http.MethodPost, "/logout", nil)
	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: tok})
	rec = e.serve(t, r)
	rec.AssertStatus(t, http.StatusOK)
	for _, name := range []string{auth.SessionCookie, auth.PendingCookie} {
		if ck := rec.Cookie(name); ck == nil || ck.MaxAge >= 0 {
			t.Errorf("%s cookie not cleared: %+v", name, ck)
		}
	}
}
