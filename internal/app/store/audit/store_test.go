package audit_test

import (
	"testing"
	"time"

	"github.com/dalemusser/classroll/internal/app/store/audit"
	"github.com/dalemusser/classroll/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStore_LogAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	classID := primitive.NewObjectID()
	events := []audit.Event{
		{Category: audit.CategoryAuth, EventType: audit.EventLoginSuccess, UserID: &userID, Success: true},
		{Category: audit.CategoryEnrollment, EventType: audit.EventSeatClaimed, UserID: &userID, ClassID: &classID, Success: true},
		{Category: audit.CategoryAdmin, EventType: audit.EventCodeRotated, ClassID: &classID, Success: true},
	}
	for _, e := range events {
		if err := store.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	byUser, err := store.GetByUser(ctx, userID, 10)
	if err != nil {
		t.Fatalf("GetByUser: %v", err)
	}
	if len(byUser) != 2 {
		t.Errorf("GetByUser = %d events, want 2", len(byUser))
	}

	byClass, err := store.GetByClass(ctx, classID, 10)
	if err != nil {
		t.Fatalf("GetByClass: %v", err)
	}
	if len(byClass) != 2 {
		t.Errorf("GetByClass = %d events, want 2", len(byClass))
	}

	n, err := store.Count(ctx, audit.QueryFilter{Category: audit.CategoryAdmin})
	if err != nil || n != 1 {
		t.Errorf("Count(admin) = %d, %v; want 1", n, err)
	}
}

func TestStore_Log_FillsIDAndTimestamp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	userID := primitive.NewObjectID()
	before := time.Now().Add(-time.Second)
	if err := store.Log(ctx, audit.Event{Category: audit.CategoryAuth, EventType: audit.EventLogout, UserID: &userID}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	got, err := store.GetByUser(ctx, userID, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("GetByUser = %v, %v", got, err)
	}
	if got[0].ID.IsZero() {
		t.Error("expected generated ID")
	}
	if got[0].Timestamp.Before(before) {
		t.Errorf("timestamp %v not set", got[0].Timestamp)
	}
}

func TestStore_Query_TimeRange(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	now := time.Now()
	_ = store.Log(ctx, audit.Event{Category: audit.CategoryAuth, EventType: audit.EventLogout, Timestamp: now.Add(-2 * time.Hour)})
	_ = store.Log(ctx, audit.Event{Category: audit.CategoryAuth, EventType: audit.EventLogout, Timestamp: now})

	start := now.Add(-time.Hour)
	got, err := store.Query(ctx, audit.QueryFilter{StartTime: &start})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Query = %d events, want 1", len(got))
	}
}
