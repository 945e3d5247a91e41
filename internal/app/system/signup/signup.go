// Package signup runs the account lifecycle: registration with an emailed
// code, verification (optionally completing a classroom join), resend,
// cancel, join with an existing account, and password reset.
package signup

import (
	"context"
	"errors"
	"strings"
	"time"

	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/codes"
	"github.com/dalemusser/classroll/internal/app/system/enrollment"
	"github.com/dalemusser/classroll/internal/app/system/mailer"
	"github.com/dalemusser/classroll/internal/app/system/metrics"
	"github.com/dalemusser/classroll/internal/app/system/normalize"
	"github.com/dalemusser/classroll/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultCodeTTL     = 10 * time.Minute
	DefaultPendingTTL  = 24 * time.Hour
	DefaultMaxAttempts = 5
)

// Client-facing messages.
const (
	msgEmailTaken      = "this email is already in use"
	msgNoAccount       = "no account found for this email"
	msgAlreadyVerified = "this account is already verified"
	msgNotVerified     = "this account has not been verified yet"
	msgCodeExpired     = "the code has expired; request a new one"
	msgCodeIncorrect   = "incorrect code"
	msgTooManyAttempts = "too many incorrect codes; request a new one"
	msgBadCredentials  = "account does not exist or is not verified"
	msgNotPending      = "only a pending signup can be cancelled"
	msgNamesMismatch   = "these names do not match your account"
)

// PasswordHasher hashes passwords and verification codes.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) bool
}

// BcryptHasher is the production PasswordHasher.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	return string(b), err
}

func (h BcryptHasher) Compare(hash, secret string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// Config tunes the lifecycle.
type Config struct {
	SiteName string
	// CodeTTL is how long an emailed code stays valid.
	CodeTTL time.Duration
	// PendingTTL is how long an unverified signup is kept before the sweep.
	PendingTTL  time.Duration
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.SiteName == "" {
		c.SiteName = "Classroll"
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = DefaultPendingTTL
	}
	c.PendingTTL = max(c.PendingTTL, c.CodeTTL)
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Registration is a validated signup request.
type Registration struct {
	Nom      string
	Prenom   string
	Email    string
	Password string
}

// JoinContext names the classroom seat a request wants to claim.
type JoinContext struct {
	ClassID primitive.ObjectID
	Nom     string
	Prenom  string
}

// Outcome reports what a mail-sending call achieved. Created with
// Notified=false means the account exists but the email did not go out.
type Outcome struct {
	UserID    primitive.ObjectID
	Email     string
	Created   bool
	Notified  bool
	MessageID string
}

// VerifyResult is returned by Verify.
type VerifyResult struct {
	UserID primitive.ObjectID
	Join   *enrollment.JoinResult
}

// Service implements the lifecycle.
type Service struct {
	users   *userstore.Store
	enroll  *enrollment.Service
	mail    mailer.Sender
	hasher  PasswordHasher
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(db *mongo.Database, enroll *enrollment.Service, mail mailer.Sender, hasher PasswordHasher, cfg Config, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		users:   userstore.New(db),
		enroll:  enroll,
		mail:    mail,
		hasher:  hasher,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// CodeTTL returns the configured code lifetime.
func (s *Service) CodeTTL() time.Duration { return s.cfg.CodeTTL }

// Register creates an unverified account and emails its code. With a join
// context the named seat must exist and be free, but it is not claimed until
// Verify.
func (s *Service) Register(ctx context.Context, reg Registration, join *JoinContext) (Outcome, error) {
	now := s.now()
	email := normalize.Email(reg.Email)

	if _, err := s.users.PurgeLapsedSignups(ctx, email, reg.Nom, reg.Prenom, now); err != nil {
		return Outcome{}, apierr.NewInternal(err)
	}

	switch _, err := s.users.GetByEmail(ctx, email, now); {
	case err == nil:
		return Outcome{}, apierr.NewConflict(msgEmailTaken, userstore.ErrDuplicateEmail)
	case !errors.Is(err, userstore.ErrNotFound):
		return Outcome{}, apierr.NewInternal(err)
	}
	taken, err := s.users.IdentityTaken(ctx, reg.Nom, reg.Prenom, primitive.NilObjectID, now)
	if err != nil {
		return Outcome{}, apierr.NewInternal(err)
	}
	if taken {
		return Outcome{}, apierr.NewConflict(identityTakenMessage(reg.Nom, reg.Prenom), userstore.ErrDuplicateIdentity)
	}

	if join != nil {
		if err := s.enroll.CheckSeat(ctx, join.ClassID, reg.Nom, reg.Prenom); err != nil {
			return Outcome{}, err
		}
	}

	pwHash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return Outcome{}, apierr.NewInternal(err)
	}
	code := codes.Verification()
	codeHash, err := s.hasher.Hash(code)
	if err != nil {
		return Outcome{}, apierr.NewInternal(err)
	}
	codeExpires := now.Add(s.cfg.CodeTTL)
	signupExpires := now.Add(s.cfg.PendingTTL)

	u, err := s.users.Create(ctx, models.User{
		Nom:             reg.Nom,
		Prenom:          reg.Prenom,
		Email:           email,
		PasswordHash:    pwHash,
		CreatedAt:       now,
		ConfirmHash:     codeHash,
		ConfirmExpires:  &codeExpires,
		SignupExpiresAt: &signupExpires,
		Status:          models.StatusStudent,
		Active:          true,
	})
	if err != nil {
		if errors.Is(err, userstore.ErrDuplicateIdentity) {
			return Outcome{}, apierr.NewConflict(identityTakenMessage(reg.Nom, reg.Prenom), err)
		}
		return Outcome{}, enrollment.Translate(err)
	}
	s.metrics.Signup("created")
	s.log.Info("signup created", zap.String("user_id", u.ID.Hex()), zap.Bool("join", join != nil))

	out := Outcome{UserID: u.ID, Email: u.Email, Created: true}
	out.MessageID, out.Notified = s.sendCode(ctx, mailer.BuildVerificationEmail, u.Email, u.Prenom, code)
	return out, nil
}

func identityTakenMessage(nom, prenom string) string {
	return "user " + normalize.Surname(nom) + " " + normalize.GivenName(prenom) + " is already registered"
}

type buildFunc func(to string, d mailer.CodeEmailData) mailer.Email

// sendCode mails code and reports whether delivery succeeded. Failures are
// logged, never returned: the caller's state change has already happened.
func (s *Service) sendCode(ctx context.Context, build buildFunc, to, prenom, code string) (string, bool) {
	msg := build(to, mailer.CodeEmailData{
		SiteName:  s.cfg.SiteName,
		Prenom:    prenom,
		Code:      code,
		ExpiresIn: mailer.FormatExpiry(s.cfg.CodeTTL),
	})
	id, err := s.mail.Send(ctx, msg)
	s.metrics.Mail(err == nil)
	if err != nil {
		s.log.Error("failed to send code email", zap.String("email", to), zap.Error(err))
		return "", false
	}
	return id, true
}

// checkCode validates code against u's stored hash, counting failures.
func (s *Service) checkCode(ctx context.Context, u *models.User, code string) error {
	if u.ConfirmHash == "" || u.ConfirmExpires == nil || !u.ConfirmExpires.After(s.now()) {
		return apierr.NewExpired(msgCodeExpired)
	}
	if u.ConfirmAttempts >= s.cfg.MaxAttempts {
		return apierr.NewRateLimited(msgTooManyAttempts)
	}
	if !s.hasher.Compare(u.ConfirmHash, strings.TrimSpace(code)) {
		if _, err := s.users.IncrementConfirmAttempts(ctx, u.ID); err != nil {
			s.log.Warn("count failed code attempt", zap.String("user_id", u.ID.Hex()), zap.Error(err))
		}
		return apierr.NewValidation(msgCodeIncorrect)
	}
	return nil
}

// Verify checks the emailed code. With a join context the seat is claimed
// and the enrollment recorded before the account is marked verified, so a
// failed claim leaves the account unverified and the code reusable.
func (s *Service) Verify(ctx context.Context, email, code string, join *JoinContext) (VerifyResult, error) {
	u, err := s.users.GetByEmail(ctx, email, s.now())
	if errors.Is(err, userstore.ErrNotFound) {
		return VerifyResult{}, apierr.NewValidation(msgNoAccount)
	}
	if err != nil {
		return VerifyResult{}, apierr.NewInternal(err)
	}
	out := VerifyResult{UserID: u.ID}

	if u.IsVerified {
		// A retried request whose first attempt completed.
		if join != nil {
			owns, err := s.enroll.OwnsSeat(ctx, join.ClassID, u.ID)
			if err != nil {
				return VerifyResult{}, err
			}
			if owns {
				res, err := s.enroll.Join(ctx, u, join.ClassID, u.Nom, u.Prenom)
				if err != nil {
					return VerifyResult{}, err
				}
				out.Join = &res
				return out, nil
			}
		}
		return VerifyResult{}, apierr.NewValidation(msgAlreadyVerified)
	}

	if err := s.checkCode(ctx, u, code); err != nil {
		return VerifyResult{}, err
	}

	if join != nil {
		res, err := s.enroll.Join(ctx, u, join.ClassID, u.Nom, u.Prenom)
		if err != nil {
			return VerifyResult{}, err
		}
		out.Join = &res
	}

	if _, err := s.users.MarkVerified(ctx, u.ID); err != nil {
		return VerifyResult{}, apierr.NewInternal(err)
	}
	s.metrics.Signup("verified")
	s.log.Info("email verified", zap.String("user_id", u.ID.Hex()), zap.Bool("join", join != nil))
	return out, nil
}

// Resend issues a fresh code to an unverified account. A pending signup's
// window is stretched to outlive the new code.
func (s *Service) Resend(ctx context.Context, email string) (Outcome, error) {
	now := s.now()
	u, err := s.users.GetByEmail(ctx, email, now)
	if errors.Is(err, userstore.ErrNotFound) {
		return Outcome{}, apierr.NewValidation(msgNoAccount)
	}
	if err != nil {
		return Outcome{}, apierr.NewInternal(err)
	}
	if u.IsVerified {
		return Outcome{}, apierr.NewValidation(msgAlreadyVerified)
	}

	code, err := s.storeNewCode(ctx, u, now, u.SignupExpiresAt != nil)
	if err != nil {
		return Outcome{}, err
	}
	s.metrics.Signup("code_resent")

	out := Outcome{UserID: u.ID, Email: u.Email}
	out.MessageID, out.Notified = s.sendCode(ctx, mailer.BuildVerificationEmail, u.Email, u.Prenom, code)
	return out, nil
}

func (s *Service) storeNewCode(ctx context.Context, u *models.User, now time.Time, extendSignup bool) (string, error) {
	code := codes.Verification()
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return "", apierr.NewInternal(err)
	}
	expires := now.Add(s.cfg.CodeTTL)
	var until *time.Time
	if extendSignup {
		until = &expires
	}
	if err := s.users.SetConfirmCode(ctx, u.ID, hash, expires, until); err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return "", apierr.NewValidation(msgNoAccount)
		}
		return "", apierr.NewInternal(err)
	}
	return code, nil
}

// Cancel deletes a pending signup after checking its password.
func (s *Service) Cancel(ctx context.Context, email, password string) error {
	u, err := s.users.GetByEmail(ctx, email, s.now())
	if errors.Is(err, userstore.ErrNotFound) {
		return apierr.NewNotFound(msgNoAccount)
	}
	if err != nil {
		return apierr.NewInternal(err)
	}
	if !u.PendingSignup() {
		return apierr.NewValidation(msgNotPending)
	}
	if !s.hasher.Compare(u.PasswordHash, password) {
		return apierr.NewAuth("invalid credentials")
	}
	deleted, err := s.users.DeletePendingSignup(ctx, u.ID)
	if err != nil {
		return apierr.NewInternal(err)
	}
	if !deleted {
		return apierr.NewValidation(msgNotPending)
	}
	s.metrics.Signup("cancelled")
	return nil
}

// Authenticate returns the verified, active account for email and password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.users.GetActiveByEmail(ctx, email, s.now())
	if errors.Is(err, userstore.ErrNotFound) {
		return nil, apierr.NewAuth(msgBadCredentials)
	}
	if err != nil {
		return nil, apierr.NewInternal(err)
	}
	if !s.hasher.Compare(u.PasswordHash, password) || !u.IsVerified {
		return nil, apierr.NewAuth(msgBadCredentials)
	}
	return u, nil
}

// JoinExisting claims a seat for an existing verified account.
func (s *Service) JoinExisting(ctx context.Context, email, password string, join JoinContext) (enrollment.JoinResult, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return enrollment.JoinResult{}, err
	}
	if !normalize.SameName(u.Nom, u.Prenom, join.Nom, join.Prenom) {
		return enrollment.JoinResult{}, apierr.NewValidation(msgNamesMismatch)
	}
	return s.enroll.Join(ctx, u, join.ClassID, join.Nom, join.Prenom)
}
