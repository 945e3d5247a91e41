// Package enrollment binds accounts to classroom seats and keeps the two
// sides (roster seat and the user's follow list) in step.
package enrollment

import (
	"context"
	"errors"
	"time"

	classroomstore "github.com/dalemusser/classroll/internal/app/store/classrooms"
	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/metrics"
	"github.com/dalemusser/classroll/internal/app/system/txn"
	"github.com/dalemusser/classroll/internal/domain/models"
	"github.com/dalemusser/classroll/internal/domain/roster"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Unenroll triggers, used for metrics and audit details.
const (
	TriggerLeave       = "leave"
	TriggerSeatRemoved = "seat_removed"
	TriggerDeleted     = "account_deleted"
)

// ErrAlreadyAdmin is returned when an administrator of a classroom tries to
// claim a student seat in the same roster.
var ErrAlreadyAdmin = errors.New("you already administer this classroom and cannot take a student seat in it")

// Service runs the enrollment flows.
type Service struct {
	client  *mongo.Client
	classes *classroomstore.Store
	users   *userstore.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New builds a Service. client may be nil in tests; writes then run without
// a transaction.
func New(client *mongo.Client, db *mongo.Database, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		client:  client,
		classes: classroomstore.New(db),
		users:   userstore.New(db),
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// JoinResult is returned by Join.
type JoinResult struct {
	ClassID primitive.ObjectID
	// UserID is the claimant. It is set on conflicts too, for auditing.
	UserID  primitive.ObjectID
	Seat    roster.SeatRef
	// AlreadyOwned is true when a previous request had already bound the seat.
	AlreadyOwned bool
	// Enrolled is true when this call added the follow entry.
	Enrolled bool
}

// Join claims the seat named (nom, prenom) in classID for u and records the
// enrollment. Retrying a successful Join is a no-op that succeeds again.
func (s *Service) Join(ctx context.Context, u *models.User, classID primitive.ObjectID, nom, prenom string) (JoinResult, error) {
	if e, ok := u.EnrollmentFor(classID); ok && e.Role == models.RoleAdmin {
		s.metrics.Claim(metrics.ClaimConflict)
		return JoinResult{ClassID: classID, UserID: u.ID}, apierr.NewConflict(ErrAlreadyAdmin.Error(), ErrAlreadyAdmin)
	}

	out := JoinResult{ClassID: classID, UserID: u.ID}
	err := txn.Run(ctx, s.client, s.log, "join classroom", func(ctx context.Context) error {
		res, err := s.classes.ClaimSeat(ctx, classID, nom, prenom, u.ID, s.now())
		if err != nil {
			return err
		}
		added, err := s.users.AddEnrollment(ctx, u.ID, classID)
		if err != nil {
			return err
		}
		out.Seat, out.AlreadyOwned, out.Enrolled = res.Seat, res.AlreadyOwned, added
		return nil
	})
	if err != nil {
		s.metrics.Claim(claimOutcome(err))
		return JoinResult{ClassID: classID, UserID: u.ID}, Translate(err)
	}

	if out.AlreadyOwned {
		s.metrics.Claim(metrics.ClaimAlreadyOwned)
	} else {
		s.metrics.Claim(metrics.ClaimClaimed)
	}
	s.log.Info("seat claimed",
		zap.String("class_id", classID.Hex()),
		zap.String("user_id", u.ID.Hex()),
		zap.Bool("already_owned", out.AlreadyOwned))
	return out, nil
}

// CheckSeat reports whether (nom, prenom) names a seat a new account could
// claim, without claiming it.
func (s *Service) CheckSeat(ctx context.Context, classID primitive.ObjectID, nom, prenom string) error {
	if _, err := s.classes.MatchSeat(ctx, classID, nom, prenom, primitive.NilObjectID, s.now()); err != nil {
		return Translate(err)
	}
	return nil
}

// OwnsSeat reports whether userID holds a seat in classID.
func (s *Service) OwnsSeat(ctx context.Context, classID, userID primitive.ObjectID) (bool, error) {
	seat, err := s.classes.SeatOf(ctx, classID, userID)
	if err != nil {
		return false, Translate(err)
	}
	return seat != nil, nil
}

// ResolveCode returns the classroom behind a join code and its free seats.
func (s *Service) ResolveCode(ctx context.Context, code string) (*models.Classroom, []models.Seat, error) {
	c, err := s.classes.ResolveCode(ctx, code, s.now())
	if err != nil {
		return nil, nil, Translate(err)
	}
	return c, roster.Available(c.Students), nil
}

// Leave removes userID from classID at the user's request.
func (s *Service) Leave(ctx context.Context, userID, classID primitive.ObjectID) error {
	removed, err := s.unenroll(ctx, classID, userID, TriggerLeave)
	if err != nil {
		return Translate(err)
	}
	if !removed {
		return apierr.NewValidation("unable to leave this classroom")
	}
	return nil
}

// unenroll releases the user's seat, pulls it from visibility exceptions and
// repertoire teacher sets, then drops the follow entry. Seat side first, so
// an interrupted fallback run is finished by a retry.
func (s *Service) unenroll(ctx context.Context, classID, userID primitive.ObjectID, trigger string) (bool, error) {
	var removed bool
	err := txn.Run(ctx, s.client, s.log, "unenroll", func(ctx context.Context) error {
		if err := s.classes.DetachUser(ctx, classID, userID); err != nil {
			return err
		}
		var err error
		removed, err = s.users.RemoveEnrollment(ctx, userID, classID)
		return err
	})
	if err != nil {
		return false, err
	}
	s.metrics.Unenrolled(trigger)
	s.log.Info("user unenrolled",
		zap.String("class_id", classID.Hex()),
		zap.String("user_id", userID.Hex()),
		zap.String("trigger", trigger))
	return removed, nil
}

// RemoveSeat deletes a roster seat. When the seat was claimed its owner is
// unenrolled from the classroom as part of the same unit of work.
func (s *Service) RemoveSeat(ctx context.Context, classID primitive.ObjectID, ref roster.SeatRef) (models.Seat, error) {
	var seat models.Seat
	err := txn.Run(ctx, s.client, s.log, "remove seat", func(ctx context.Context) error {
		var err error
		seat, err = s.classes.RemoveSeat(ctx, classID, ref)
		if err != nil {
			return err
		}
		if !seat.Claimed() {
			return nil
		}
		if err := s.classes.DetachUser(ctx, classID, *seat.UserID); err != nil {
			return err
		}
		_, err = s.users.RemoveEnrollment(ctx, *seat.UserID, classID)
		if errors.Is(err, userstore.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return models.Seat{}, Translate(err)
	}
	if seat.Claimed() {
		s.metrics.Unenrolled(TriggerSeatRemoved)
	}
	return seat, nil
}

// DeleteAccount removes a non-administrator account after detaching it from
// every classroom it is enrolled in or referenced by.
func (s *Service) DeleteAccount(ctx context.Context, userID primitive.ObjectID) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Translate(err)
	}
	if u.IsAdminAnywhere() || u.Status == models.StatusTeacher {
		return apierr.NewForbidden("a teacher account cannot be deleted from here")
	}

	classIDs, err := s.classes.ClassesReferencing(ctx, userID)
	if err != nil {
		return apierr.NewInternal(err)
	}
	classIDs = mergeIDs(classIDs, u.Follow)

	err = txn.Run(ctx, s.client, s.log, "delete account", func(ctx context.Context) error {
		for _, id := range classIDs {
			if err := s.classes.DetachUser(ctx, id, userID); err != nil {
				return err
			}
		}
		deleted, err := s.users.Delete(ctx, userID)
		if err != nil {
			return err
		}
		if !deleted {
			return userstore.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return Translate(err)
	}
	s.metrics.Unenrolled(TriggerDeleted)
	s.log.Info("account deleted", zap.String("user_id", userID.Hex()), zap.Int("classrooms", len(classIDs)))
	return nil
}

func mergeIDs(ids []primitive.ObjectID, follow []models.Enrollment) []primitive.ObjectID {
	seen := make(map[primitive.ObjectID]bool, len(ids)+len(follow))
	out := make([]primitive.ObjectID, 0, len(ids)+len(follow))
	add := func(id primitive.ObjectID) {
		if !id.IsZero() && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		add(id)
	}
	for _, e := range follow {
		add(e.ClassID)
	}
	return out
}

func claimOutcome(err error) string {
	switch {
	case errors.Is(err, classroomstore.ErrSeatUnavailable):
		return metrics.ClaimConflict
	case errors.Is(err, classroomstore.ErrNoMatchingSeat):
		return metrics.ClaimNoMatch
	case errors.Is(err, classroomstore.ErrInvalidClassroom):
		return metrics.ClaimInvalidCode
	default:
		return metrics.ClaimError
	}
}
