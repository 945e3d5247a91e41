// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Event categories
const (
	CategoryAuth       = "auth"
	CategoryEnrollment = "enrollment"
	CategoryAdmin      = "admin"
)

// Auth event types
const (
	EventSignupCreated          = "signup_created"
	EventSignupCancelled        = "signup_cancelled"
	EventEmailVerified          = "email_verified"
	EventVerificationCodeSent   = "verification_code_sent"
	EventVerificationCodeFailed = "verification_code_failed"
	EventNotificationFailed     = "notification_failed"
	EventLoginSuccess           = "login_success"
	EventLoginFailed            = "login_failed"
	EventLoginRateLimited       = "login_rate_limited"
	EventClassSelected          = "class_selected"
	EventLogout                 = "logout"
	EventPasswordResetRequested = "password_reset_requested"
	EventPasswordChanged        = "password_changed"
	EventAccountDeleted         = "account_deleted"
)

// Enrollment event types
const (
	EventSeatClaimed       = "seat_claimed"
	EventSeatClaimConflict = "seat_claim_conflict"
	EventUnenrolled        = "unenrolled"
)

// Admin event types
const (
	EventSeatAdded         = "seat_added"
	EventRosterImported    = "roster_imported"
	EventSeatRemoved       = "seat_removed"
	EventCodeRotated       = "code_rotated"
	EventClassActivated    = "class_activated"
	EventClassDeactivated  = "class_deactivated"
	EventVisibilityGranted = "visibility_granted"
	EventVisibilityRevoked = "visibility_revoked"
	EventRepertoireAdded   = "repertoire_added"
	EventTeacherAssigned   = "teacher_assigned"
	EventTeacherUnassigned = "teacher_unassigned"
	EventAdminGranted      = "admin_granted"
)

// Event represents an audit event.
type Event struct {
	ID        primitive.ObjectID  `bson:"_id,omitempty"`
	Timestamp time.Time           `bson:"timestamp"`
	ClassID   *primitive.ObjectID `bson:"class_id,omitempty"`

	Category  string `bson:"category"`
	EventType string `bson:"event_type"`

	// Who
	UserID  *primitive.ObjectID `bson:"user_id,omitempty"`  // affected user
	ActorID *primitive.ObjectID `bson:"actor_id,omitempty"` // who performed action (for admin actions)

	IP        string `bson:"ip"`
	UserAgent string `bson:"user_agent,omitempty"`

	Success       bool   `bson:"success"`
	FailureReason string `bson:"failure_reason,omitempty"`

	Details map[string]string `bson:"details,omitempty"`
}

// QueryFilter defines filters for querying audit events.
type QueryFilter struct {
	ClassID   *primitive.ObjectID
	UserID    *primitive.ObjectID
	Category  string
	EventType string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int64
	Offset    int64
}

func (f QueryFilter) query() bson.M {
	q := bson.M{}
	if f.ClassID != nil {
		q["class_id"] = f.ClassID
	}
	if f.UserID != nil {
		q["user_id"] = f.UserID
	}
	if f.Category != "" {
		q["category"] = f.Category
	}
	if f.EventType != "" {
		q["event_type"] = f.EventType
	}
	if f.StartTime != nil || f.EndTime != nil {
		tq := bson.M{}
		if f.StartTime != nil {
			tq["$gte"] = *f.StartTime
		}
		if f.EndTime != nil {
			tq["$lte"] = *f.EndTime
		}
		q["timestamp"] = tq
	}
	return q
}

// Store manages audit event records.
type Store struct {
	c *mongo.Collection
}

// New creates a new audit Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_events")}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

// Query retrieves audit events matching the filter, most recent first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := s.c.Find(ctx, filter.query(), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns the number of events matching the filter.
func (s *Store) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, filter.query())
}

// GetByUser retrieves recent audit events for a specific user.
func (s *Store) GetByUser(ctx context.Context, userID primitive.ObjectID, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{UserID: &userID, Limit: limit})
}

// GetByClass retrieves recent audit events for a classroom.
func (s *Store) GetByClass(ctx context.Context, classID primitive.ObjectID, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{ClassID: &classID, Limit: limit})
}
