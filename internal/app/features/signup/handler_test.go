package signup_test

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/classroll/internal/app/features/signup"
	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/app/system/auditlog"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	"github.com/dalemusser/classroll/internal/app/system/mailer"
	"github.com/dalemusser/classroll/internal/app/system/ratelimit"
	signupsvc "github.com/dalemusser/classroll/internal/app/system/signup"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/dalemusser/classroll/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type captureSender struct {
	mu   sync.Mutex
	sent []mailer.Email
}

func (c *captureSender) Send(_ context.Context, e mailer.Email) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, e)
	return "<id@test>", nil
}

var codeRe = regexp.MustCompile(`:\s([A-NP-Z1-9]{4})\n`)

func (c *captureSender) code(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		t.Fatal("no email sent")
	}
	m := codeRe.FindStringSubmatch(c.sent[len(c.sent)-1].TextBody)
	if m == nil {
		t.Fatalf("no code in email body")
	}
	return m[1]
}

type env struct {
	h    *signup.Handler
	fx   *testutil.Fixtures
	mail *captureSender
}

func setup(t *testing.T) env {
	t.Helper()
	client, db := testutil.SetupTestClient(t)
	log := zap.NewNop()
	mail := &captureSender{}
	enroll := enrollment.New(client, db, log, nil)
	svc := signupsvc.New(db, enroll, mail, signupsvc.BcryptHasher{Cost: bcrypt.MinCost}, signupsvc.Config{}, log, nil)
	return env{
		h:    signup.NewHandler(svc, enroll, nil, nil, log),
		fx:   testutil.NewFixtures(t, db),
		mail: mail,
	}
}

func (e env) serve(t *testing.T, path string, body any) *testutil.ResponseRecorder {
	t.Helper()
	rec := testutil.NewRecorder()
	signup.Routes(e.h).ServeHTTP(rec, testutil.JSONRequest(t, http.MethodPost, path, body))
	return rec
}

func TestValidateTeacherCode(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	taken := testutil.Seat("MARTIN", "paul")
	taken.Free = models.BoolPtr(false)
	owner := e.fx.CreateUser(ctx, "Martin", "Paul", "paul@test.com")
	taken.UserID = &owner.ID
	c := e.fx.CreateClassroom(ctx, "CM2 B", testutil.Seat("DUPONT", "elodie"), taken)

	tests := []struct {
		name   string
		code   string
		status int
	}{
		{"exact", "AB12", http.StatusOK},
		{"lower case", "ab12", http.StatusOK},
		{"unknown", "ZZZZ", http.StatusBadRequest},
		{"blank", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.serve(t, "/signup/validate-teacher-code", map[string]string{"code": tt.code})
			rec.AssertStatus(t, tt.status)
			if tt.status != http.StatusOK {
				return
			}
			var got struct {
				ClassID  string `json:"classId"`
				Students []struct {
					Nom    string `json:"nom"`
					Prenom string `json:"prenom"`
				} `json:"students"`
			}
			rec.DecodeJSON(t, &got)
			if got.ClassID != c.ID.Hex() {
				t.Errorf("classId = %q, want %q", got.ClassID, c.ID.Hex())
			}
			if len(got.Students) != 1 || got.Students[0].Nom != "DUPONT" {
				t.Errorf("students = %+v, want only the free seat", got.Students)
			}
		})
	}
}

func TestValidateTeacherCode_Expired(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e.fx.CreateClassroomWithCode(ctx, "Old", "OLD1", time.Now().Add(-time.Minute), testutil.Seat("DUPONT", "elodie"))
	rec := e.serve(t, "/signup/validate-teacher-code", map[string]string{"code": "OLD1"})
	rec.AssertStatus(t, http.StatusBadRequest)
}

func TestCheckStudent(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := e.fx.CreateClassroom(ctx, "CM2", testutil.Seat("DUPONT", "elodie"))

	rec := e.serve(t, "/signup/check-student", map[string]string{
		"classId": c.ID.Hex(), "nom": "dupont", "prenom": "Élodie",
	})
	rec.AssertStatus(t, http.StatusOK)

	rec = e.serve(t, "/signup/check-student", map[string]string{
		"classId": c.ID.Hex(), "nom": "Durand", "prenom": "Alice",
	})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"redirect":true`)

	rec = e.serve(t, "/signup/check-student", map[string]string{
		"classId": "nope", "nom": "Dupont", "prenom": "Elodie",
	})
	rec.AssertStatus(t, http.StatusBadRequest)
}

func createBody(email, classID string) map[string]string {
	return map[string]string{
		"nom":             "Dupont",
		"prenom":          "Elodie",
		"email":           email,
		"password":        testutil.TestPassword,
		"confirmPassword": testutil.TestPassword,
		"classId":         classID,
	}
}

func TestCreateThenVerify_ClaimsSeat(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := e.fx.CreateClassroom(ctx, "CM2", testutil.Seat("DUPONT", "elodie"))

	rec := e.serve(t, "/signup/create", createBody("elodie@test.com", c.ID.Hex()))
	rec.AssertStatus(t, http.StatusCreated)
	rec.AssertContains(t, `"sendMail":true`)

	if seat := e.fx.Classroom(ctx, c.ID).Students[0]; !seat.IsFree() {
		t.Fatal("create must not claim the seat")
	}

	rec = e.serve(t, "/verifmail", map[string]string{
		"email": "elodie@test.com", "code": e.mail.code(t), "classId": c.ID.Hex(),
	})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"success":true`)

	seat := e.fx.Classroom(ctx, c.ID).Students[0]
	if !seat.Claimed() {
		t.Fatalf("seat not claimed after verification: %+v", seat)
	}
}

func TestCreate_Validation(t *testing.T) {
	e := setup(t)

	body := createBody("not-an-email", "")
	body["confirmPassword"] = "different"
	rec := e.serve(t, "/signup/create", body)
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, `"field":"email"`)
	rec.AssertContains(t, `"field":"confirmPassword"`)
}

func TestCreate_Duplicate(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e.fx.CreateUser(ctx, "Other", "Person", "elodie@test.com")
	rec := e.serve(t, "/signup", createBody("elodie@test.com", ""))
	rec.AssertStatus(t, http.StatusConflict)
}

func TestResendCode_RateLimited(t *testing.T) {
	e := setup(t)
	guard := ratelimit.NewGuard("mail", nil, ratelimit.MailIP, ratelimit.Rule{Limit: 1, Window: time.Minute}, zap.NewNop())
	defer guard.Stop()
	e.h.Mail = guard

	e.serve(t, "/resend-code", map[string]string{"email": "x@test.com"})
	rec := e.serve(t, "/resend-code", map[string]string{"email": "x@test.com"})
	rec.AssertStatus(t, http.StatusTooManyRequests)
}

func TestVerify_ExpiredCode(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e.fx.CreatePendingSignup(ctx, "Dupont", "Elodie", "elodie@test.com", "ABCD",
		time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	rec := e.serve(t, "/verifmail", map[string]string{"email": "elodie@test.com", "code": "ABCD"})
	rec.AssertStatus(t, http.StatusBadRequest)
	rec.AssertContains(t, "expired")
}

func TestResendCode(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e.fx.CreatePendingSignup(ctx, "Dupont", "Elodie", "elodie@test.com", "ABCD",
		time.Now().Add(-time.Minute), time.Now().Add(time.Hour))

	rec := e.serve(t, "/resend-code", map[string]string{"email": "elodie@test.com"})
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"resend":true`)

	rec = e.serve(t, "/verifmail", map[string]string{"email": "elodie@test.com", "code": e.mail.code(t)})
	rec.AssertStatus(t, http.StatusOK)
}

func TestCancel(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := e.fx.CreatePendingSignup(ctx, "Dupont", "Elodie", "elodie@test.com", "ABCD",
		time.Now().Add(time.Minute), time.Now().Add(time.Hour))

	rec := e.serve(t, "/signup/cancel", map[string]string{"email": "elodie@test.com", "password": "wrong-password"})
	rec.AssertStatus(t, http.StatusUnauthorized)

	rec = e.serve(t, "/signup/cancel", map[string]string{"email": "elodie@test.com", "password": testutil.TestPassword})
	rec.AssertStatus(t, http.StatusOK)
	if e.fx.User(ctx, u.ID) != nil {
		t.Fatal("pending signup still present")
	}
}

func TestJoinExisting(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	c := e.fx.CreateClassroom(ctx, "CM2", testutil.Seat("DUPONT", "elodie"))

	body := map[string]string{
		"classId":  c.ID.Hex(),
		"nom":      "Dupont",
		"prenom":   "Elodie",
		"email":    "elodie@test.com",
		"password": testutil.TestPassword,
	}
	rec := e.serve(t, "/signup/join-existing", body)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"alreadyOwned":false`)

	rec = e.serve(t, "/signup/join-existing", body)
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"alreadyOwned":true`)

	got := e.fx.User(ctx, u.ID)
	if _, ok := got.EnrollmentFor(c.ID); !ok || len(got.Follow) != 1 {
		t.Fatalf("follow = %+v, want one entry for the classroom", got.Follow)
	}
}

func TestJoinExisting_SeatTaken(t *testing.T) {
	e := setup(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	other := e.fx.CreateUser(ctx, "Dupont", "Marc", "marc@test.com")
	seat := testutil.Seat("DUPONT", "elodie")
	seat.Free = models.BoolPtr(false)
	seat.UserID = &other.ID
	c := e.fx.CreateClassroom(ctx, "CM2", seat)

	rec := e.serve(t, "/signup/join-existing", map[string]string{
		"classId": c.ID.Hex(), "nom": "Dupont", "prenom": "Elodie",
		"email": "elodie@test.com", "password": testutil.TestPassword,
	})
	rec.AssertStatus(t, http.StatusConflict)
}

func TestJoinExisting_AuditsClaimant(t *testing.T) {
	e := setup(t)
	e.h.AuditLog = auditlog.New(audit.New(e.fx.DB()), zap.NewNop(), auditlog.Config{Auth: "db", Admin: "db"})
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u := e.fx.CreateUser(ctx, "Dupont", "Elodie", "elodie@test.com")
	other := e.fx.CreateUser(ctx, "Dupont", "Marc", "marc@test.com")
	open := e.fx.CreateClassroom(ctx, "CM2", testutil.Seat("DUPONT", "elodie"))
	taken := testutil.Seat("DUPONT", "elodie")
	taken.Free = models.BoolPtr(false)
	taken.UserID = &other.ID
	closed := e.fx.CreateClassroom(ctx, "CM1", taken)

	tests := []struct {
		name   string
		class  primitive.ObjectID
		status int
		event  string
	}{
		{"claimed", open.ID, http.StatusOK, audit.EventSeatClaimed},
		{"seat taken", closed.ID, http.StatusConflict, audit.EventSeatClaimConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.serve(t, "/signup/join-existing", map[string]string{
				"classId": tt.class.Hex(), "nom": "Dupont", "prenom": "Elodie",
				"email": "elodie@test.com", "password": testutil.TestPassword,
			}).AssertStatus(t, tt.status)

			events, err := audit.New(e.fx.DB()).GetByClass(ctx, tt.class, 10)
			if err != nil {
				t.Fatalf("GetByClass: %v", err)
			}
			if len(events) != 1 || events[0].EventType != tt.event {
				t.Fatalf("events = %+v, want one %s", events, tt.event)
			}
			if events[0].UserID == nil || *events[0].UserID != u.ID {
				t.Errorf("user_id = %v, want %s", events[0].UserID, u.ID.Hex())
			}
		})
	}
}
