package roster_test

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dalemusser/classroll/internal/app/features/roster"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/auth"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/dalemusser/classroll/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type env struct {
	h      *roster.Handler
	tokens *auth.Manager
	fx     *testutil.Fixtures
	class  models.Classroom
	admin  auth.Claims
}

func setup(t *testing.T, seats ...models.Seat) env {
	t.Helper()
	client, db := testutil.SetupTestClient(t)
	log := zap.NewNop()
	fx := testutil.NewFixtures(t, db)

	ctx, cancel := testutil.TestContext()
	defer cancel()
	c := fx.CreateClassroom(ctx, "CM2", seats...)
	teacher := fx.CreateTeacher(ctx, "Martin", "Paul", "paul@test.com", c.ID)

	return env{
		h:      roster.NewHandler(db, enrollment.New(client, db, log, nil), nil, 0, log),
		tokens: testutil.TokenManager(t),
		fx:     fx,
		class:  c,
		admin:  testutil.SessionFor(teacher, c, models.RoleAdmin),
	}
}

func (e env) do(t *testing.T, r *http.Request, claims auth.Claims) *testutil.ResponseRecorder {
	t.Helper()
	tok, err := e.tokens.IssueSession(claims)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: tok})
	rec := testutil.NewRecorder()
	roster.Routes(e.h, e.tokens).ServeHTTP(rec, r)
	return rec
}

func (e env) path(suffix string) string {
	return "/" + e.class.ID.Hex() + suffix
}

func TestAccessControl(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	student := e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	other := e.fx.CreateClassroom(ctx, "CM1")

	tests := []struct {
		name   string
		claims auth.Claims
		status int
	}{
		{"admin of the classroom", e.admin, http.StatusOK},
		{"student", testutil.SessionFor(student, e.class, models.RoleUser), http.StatusForbidden},
		{"admin of another classroom", testutil.SessionFor(student, other, models.RoleAdmin), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, httptest.NewRequest(http.MethodGet, e.path("/roster"), nil), tt.claims)
			rec.AssertStatus(t, tt.status)
		})
	}

	rec := testutil.NewRecorder()
	roster.Routes(e.h, e.tokens).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, e.path("/roster"), nil))
	rec.AssertStatus(t, http.StatusUnauthorized)
}

func TestAddSeatAndList(t *testing.T) {
	e := setup(t)

	rec := e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/seats"), map[string]string{
		"nom": "Dupont", "prenom": "Élodie",
	}), e.admin)
	rec.AssertStatus(t, http.StatusCreated)
	rec.AssertContains(t, `"nom":"DUPONT"`)

	rec = e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/seats"), map[string]string{
		"nom": "DUPONT", "prenom": "elodie",
	}), e.admin)
	rec.AssertStatus(t, http.StatusConflict)

	rec = e.do(t, httptest.NewRequest(http.MethodGet, e.path("/roster"), nil), e.admin)
	rec.AssertStatus(t, http.StatusOK)
	var got struct {
		Code     string `json:"code"`
		Students []struct {
			Nom    string `json:"nom"`
			Prenom string `json:"prenom"`
			Free   bool   `json:"free"`
		} `json:"students"`
	}
	rec.DecodeJSON(t, &got)
	if got.Code != "AB12" {
		t.Errorf("code = %q, want AB12", got.Code)
	}
	if len(got.Students) != 1 || got.Students[0].Prenom != "elodie" || !got.Students[0].Free {
		t.Errorf("students = %+v", got.Students)
	}
}

func csvUpload(t *testing.T, target, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "roster.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	mw.Close()
	r := httptest.NewRequest(http.MethodPost, target, &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestImport(t *testing.T) {
	e := setup(t, testutil.Seat("DUPONT", "elodie"))
	ctx, cancel := testutil.TestContext()
	defer cancel()

	rec := e.do(t, csvUpload(t, e.path("/seats/import"), "nom;prénom\nDupont;Élodie\nMartin;Léa\nDurand;Hugo\n"), e.admin)
	rec.AssertStatus(t, http.StatusOK)
	var got struct {
		Added   int `json:"added"`
		Skipped []struct {
			Nom string `json:"nom"`
		} `json:"skipped"`
	}
	rec.DecodeJSON(t, &got)
	if got.Added != 2 || len(got.Skipped) != 1 {
		t.Errorf("added=%d skipped=%+v, want 2 added and DUPONT skipped", got.Added, got.Skipped)
	}
	if n := len(e.fx.Classroom(ctx, e.class.ID).Students); n != 3 {
		t.Errorf("roster has %d seats, want 3", n)
	}
}

func TestImport_RejectsInvalidFile(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	r := httptest.NewRequest(http.MethodPost, e.path("/seats/import"), strings.NewReader("Martin,Léa\nDurand,\n"))
	r.Header.Set("Content-Type", "text/csv")
	rec := e.do(t, r, e.admin)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "line 2")

	if n := len(e.fx.Classroom(ctx, e.class.ID).Students); n != 0 {
		t.Errorf("roster has %d seats after a rejected import", n)
	}
}

func TestRemoveSeat_UnenrollsOwner(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	student := e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	seat := testutil.Seat("DUPONT", "elodie")
	seat.Free = models.BoolPtr(false)
	seat.UserID = &student.ID

	c := e.fx.CreateClassroom(ctx, "CM2 bis", seat)
	teacher := e.fx.CreateTeacher(ctx, "Petit", "Anne", "anne@test.com", c.ID)
	if _, err := userstore.New(e.fx.DB()).AddEnrollment(ctx, student.ID, c.ID); err != nil {
		t.Fatalf("AddEnrollment: %v", err)
	}
	admin := testutil.SessionFor(teacher, c, models.RoleAdmin)
	seatID := e.fx.Classroom(ctx, c.ID).Students[0].ID

	r := httptest.NewRequest(http.MethodDelete, "/"+c.ID.Hex()+"/seats/"+seatID.Hex(), nil)
	rec := e.do(t, r, admin)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"unenrolled":true`)

	if n := len(e.fx.Classroom(ctx, c.ID).Students); n != 0 {
		t.Errorf("roster has %d seats, want 0", n)
	}
	if u := e.fx.User(ctx, student.ID); len(u.Follow) != 0 {
		t.Errorf("student still enrolled: %+v", u.Follow)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodDelete, "/"+c.ID.Hex()+"/seats/"+seatID.Hex(), nil), admin)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestRemoveSeatAt_PinsNames(t *testing.T) {
	e := setup(t, testutil.Seat("DUPONT", "elodie"))

	rec := e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/seats/remove"), map[string]any{
		"index": 0, "nom": "MARTIN", "prenom": "lea",
	}), e.admin)
	rec.AssertStatus(t, http.StatusNotFound)

	rec = e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/seats/remove"), map[string]any{
		"index": 0, "nom": "DUPONT", "prenom": "elodie",
	}), e.admin)
	rec.AssertStatus(t, http.StatusOK)
}

func TestRotateCodeAndActive(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	rec := e.do(t, httptest.NewRequest(http.MethodPost, e.path("/code"), nil), e.admin)
	rec.AssertStatus(t, http.StatusOK)
	var got struct {
		Code string `json:"code"`
	}
	rec.DecodeJSON(t, &got)
	if len(got.Code) != 6 || got.Code == "AB12" {
		t.Errorf("code = %q, want a new 6 character code", got.Code)
	}
	if stored := e.fx.Classroom(ctx, e.class.ID).Code; stored != got.Code {
		t.Errorf("stored code = %q, want %q", stored, got.Code)
	}

	rec = e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/active"), map[string]bool{"active": false}), e.admin)
	rec.AssertStatus(t, http.StatusOK)
	if e.fx.Classroom(ctx, e.class.ID).Active {
		t.Error("classroom still active")
	}

	rec = e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/active"), map[string]string{}), e.admin)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestVisibility(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	rec := e.do(t, httptest.NewRequest(http.MethodPost, e.path("/visibility/"+u.ID.Hex()), nil), e.admin)
	rec.AssertStatus(t, http.StatusOK)
	if v := e.fx.Classroom(ctx, e.class.ID).VisibleTo; len(v) != 1 || v[0] != u.ID {
		t.Errorf("visibleTo = %v", v)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodDelete, e.path("/visibility/"+u.ID.Hex()), nil), e.admin)
	rec.AssertStatus(t, http.StatusOK)
	if v := e.fx.Classroom(ctx, e.class.ID).VisibleTo; len(v) != 0 {
		t.Errorf("visibleTo = %v, want empty", v)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodPost, e.path("/visibility/not-an-id"), nil), e.admin)
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestGrantAdmin(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	colleague := e.fx.CreateUser(ctx, "Leroy", "Marc", "marc@test.com")
	if _, err := userstore.New(e.fx.DB()).AddEnrollment(ctx, colleague.ID, e.class.ID); err != nil {
		t.Fatalf("AddEnrollment: %v", err)
	}

	rec := e.do(t, httptest.NewRequest(http.MethodPost, e.path("/admins/"+colleague.ID.Hex()), nil), e.admin)
	rec.AssertStatus(t, http.StatusOK)

	got := e.fx.User(ctx, colleague.ID)
	if len(got.Follow) != 1 || got.Follow[0].Role != models.RoleAdmin {
		t.Errorf("follow = %+v, want a single admin entry", got.Follow)
	}

	student := e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	seat := testutil.Seat("DUPONT", "elodie")
	seat.Free = models.BoolPtr(false)
	seat.UserID = &student.ID
	c := e.fx.CreateClassroom(ctx, "CM2 ter", seat)
	teacher := e.fx.CreateTeacher(ctx, "Petit", "Anne", "anne@test.com", c.ID)

	rec = e.do(t, httptest.NewRequest(http.MethodPost, "/"+c.ID.Hex()+"/admins/"+student.ID.Hex(), nil),
		testutil.SessionFor(teacher, c, models.RoleAdmin))
	rec.AssertStatus(t, http.StatusConflict)

	rec = e.do(t, httptest.NewRequest(http.MethodPost, e.path("/admins/"+primitive.NewObjectID().Hex()), nil), e.admin)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestRepertoires(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	rec := e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/repertoires"), map[string]string{
		"name": "<b>Sciences</b> naturelles",
	}), e.admin)
	rec.AssertStatus(t, http.StatusCreated)
	var rep models.Repertoire
	rec.DecodeJSON(t, &rep)
	if rep.Name != "Sciences naturelles" {
		t.Errorf("name = %q, want markup stripped", rep.Name)
	}

	rec = e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/repertoires"), map[string]string{"name": "<i></i>"}), e.admin)
	rec.AssertStatus(t, http.StatusBadRequest)

	helper := e.fx.CreateUser(ctx, "Leroy", "Marc", "marc@test.com")
	assign := e.path("/repertoires/" + rep.Slug + "/teachers/" + helper.ID.Hex())
	rec = e.do(t, httptest.NewRequest(http.MethodPost, assign, nil), e.admin)
	rec.AssertStatus(t, http.StatusOK)

	got := e.fx.User(ctx, helper.ID)
	if _, ok := got.EnrollmentFor(e.class.ID); !ok {
		t.Error("assigned teacher not enrolled in the classroom")
	}

	// The assigned teacher administers the repertoire but not the classroom.
	scoped := testutil.SessionFor(*got, e.class, models.RoleUser)
	scoped.AdminRepertoires = []string{rep.Slug}
	rec = e.do(t, httptest.NewRequest(http.MethodDelete, assign, nil), scoped)
	rec.AssertStatus(t, http.StatusOK)

	scoped.AdminRepertoires = nil
	rec = e.do(t, httptest.NewRequest(http.MethodPost, assign, nil), scoped)
	rec.AssertStatus(t, http.StatusForbidden)

	rec = e.do(t, httptest.NewRequest(http.MethodPost, e.path("/repertoires/unknown/teachers/"+helper.ID.Hex()), nil), e.admin)
	rec.AssertStatus(t, http.StatusNotFound)
}

func TestHistory(t *testing.T) {
	e := setup(t)
	e.h.AuditLog = auditlog.New(audit.New(e.fx.DB()), zap.NewNop(), auditlog.Config{Auth: "db", Admin: "db"})

	e.do(t, httptest.NewRequest(http.MethodPost, e.path("/code"), nil), e.admin).AssertStatus(t, http.StatusOK)
	e.do(t, testutil.JSONRequest(t, http.MethodPost, e.path("/active"), map[string]bool{"active": false}), e.admin).
		AssertStatus(t, http.StatusOK)

	type page struct {
		Events []struct {
			EventType string `json:"eventType"`
			ActorID   string `json:"actorId"`
		} `json:"events"`
		HasNext   bool `json:"hasNext"`
		NextStart int  `json:"nextStart"`
	}

	rec := e.do(t, httptest.NewRequest(http.MethodGet, e.path("/history"), nil), e.admin)
	rec.AssertStatus(t, http.StatusOK)
	var all page
	rec.DecodeJSON(t, &all)
	if len(all.Events) != 2 || all.Events[0].EventType != audit.EventClassDeactivated {
		t.Fatalf("events = %+v, want deactivation first", all.Events)
	}
	if all.Events[1].ActorID != e.admin.UserID {
		t.Errorf("actorId = %q, want %q", all.Events[1].ActorID, e.admin.UserID)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, e.path("/history?type="+audit.EventCodeRotated), nil), e.admin)
	var filtered page
	rec.DecodeJSON(t, &filtered)
	if len(filtered.Events) != 1 || filtered.Events[0].EventType != audit.EventCodeRotated {
		t.Errorf("filtered events = %+v", filtered.Events)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, e.path("/history?limit=1"), nil), e.admin)
	var first page
	rec.DecodeJSON(t, &first)
	if len(first.Events) != 1 || !first.HasNext || first.NextStart != 2 {
		t.Errorf("first page = %+v", first)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, e.path("/history?from=yesterday"), nil), e.admin)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"field":"from"`)
}
