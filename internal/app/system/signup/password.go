package signup

import (
	"context"
	"errors"

	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/mailer"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ForgotPassword emails a reset code to a verified account.
func (s *Service) ForgotPassword(ctx context.Context, email string) (Outcome, error) {
	now := s.now()
	u, err := s.users.GetByEmail(ctx, email, now)
	if errors.Is(err, userstore.ErrNotFound) {
		return Outcome{}, apierr.NewValidation(msgNoAccount)
	}
	if err != nil {
		return Outcome{}, apierr.NewInternal(err)
	}
	if !u.IsVerified {
		return Outcome{}, apierr.NewValidation(msgNotVerified)
	}

	code, err := s.storeNewCode(ctx, u, now, false)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{UserID: u.ID, Email: u.Email}
	out.MessageID, out.Notified = s.sendCode(ctx, mailer.BuildPasswordResetEmail, u.Email, u.Prenom, code)
	return out, nil
}

// ResetPassword sets a new password after checking the emailed code.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	u, err := s.users.GetByEmail(ctx, email, s.now())
	if errors.Is(err, userstore.ErrNotFound) {
		return apierr.NewValidation(msgNoAccount)
	}
	if err != nil {
		return apierr.NewInternal(err)
	}
	if !u.IsVerified {
		return apierr.NewValidation(msgNotVerified)
	}
	if err := s.checkCode(ctx, u, code); err != nil {
		return err
	}
	return s.setPassword(ctx, u.ID, newPassword)
}

// ChangePassword sets a new password for a signed-in user.
func (s *Service) ChangePassword(ctx context.Context, userID primitive.ObjectID, newPassword string) error {
	return s.setPassword(ctx, userID, newPassword)
}

func (s *Service) setPassword(ctx context.Context, userID primitive.ObjectID, pw string) error {
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return apierr.NewInternal(err)
	}
	if err := s.users.SetPassword(ctx, userID, hash); err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return apierr.NewNotFound("user not found")
		}
		return apierr.NewInternal(err)
	}
	s.log.Info("password changed", zap.String("user_id", userID.Hex()))
	return nil
}
