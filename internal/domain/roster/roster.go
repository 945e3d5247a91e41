// Package roster holds the pure seat-matching rules shared by the classroom
// store and the enrollment service. Nothing here touches the database.
package roster

import (
	"errors"

	"github.com/dalemusser/classroll/internal/app/system/normalize"
	"github.com/dalemusser/classroll/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNoMatchingSeat means no seat carries the claimed names.
	ErrNoMatchingSeat = errors.New("names not recognized for this code; contact the teacher")
	// ErrSeatUnavailable means the matching seat is held by someone else.
	ErrSeatUnavailable = errors.New("slot no longer available; contact the teacher")
	// ErrInconsistentRoster means a matched seat could not be addressed.
	ErrInconsistentRoster = errors.New("roster seat has neither id nor valid index")
)

// SeatRef addresses one seat. ID is used when the seat has a stable
// sub-document id; otherwise Index is the position in the roster and Nom and
// Prenom are the stored names at that position, pinned by writes so that a
// concurrent reorder cannot redirect the update to another seat.
type SeatRef struct {
	ID     primitive.ObjectID
	Index  int
	Nom    string
	Prenom string
}

// ByID reports whether the reference uses the stable id.
func (r SeatRef) ByID() bool { return !r.ID.IsZero() }

// Valid reports whether the reference can address a seat in a roster of n seats.
func (r SeatRef) Valid(n int) bool {
	if r.ByID() {
		return true
	}
	return r.Index >= 0 && r.Index < n
}

// RefFor builds the reference for seats[i].
func RefFor(seats []models.Seat, i int) (SeatRef, error) {
	if i < 0 || i >= len(seats) {
		return SeatRef{}, ErrInconsistentRoster
	}
	s := seats[i]
	ref := SeatRef{ID: s.ID, Index: i, Nom: s.Nom, Prenom: s.Prenom}
	return ref, nil
}

// Resolve returns the index of the seat the reference designates in seats,
// or -1 when it is no longer there.
func Resolve(seats []models.Seat, ref SeatRef) int {
	if ref.ByID() {
		for i, s := range seats {
			if s.ID == ref.ID {
				return i
			}
		}
		return -1
	}
	if ref.Index < 0 || ref.Index >= len(seats) {
		return -1
	}
	s := seats[ref.Index]
	if s.Nom != ref.Nom || s.Prenom != ref.Prenom {
		return -1
	}
	return ref.Index
}

// FindSeat returns the index of the first seat whose stored names equal
// (nom, prenom) under match-key comparison, or -1.
func FindSeat(seats []models.Seat, nom, prenom string) int {
	kn, kp := normalize.MatchKey(nom), normalize.MatchKey(prenom)
	if kn == "" || kp == "" {
		return -1
	}
	for i, s := range seats {
		if normalize.MatchKey(s.Nom) == kn && normalize.MatchKey(s.Prenom) == kp {
			return i
		}
	}
	return -1
}

// AvailableToNew reports whether any new claimant may take the seat.
func AvailableToNew(s models.Seat) bool {
	return s.IsFree()
}

// AvailableFor reports whether userID may claim the seat: it is free, or it
// is already bound to userID (an idempotent re-claim).
func AvailableFor(s models.Seat, userID primitive.ObjectID) bool {
	return s.IsFree() || s.OwnedBy(userID)
}

// Match locates the seat for (nom, prenom) and checks that userID may claim
// it. A zero userID checks availability for a new claimant.
func Match(seats []models.Seat, nom, prenom string, userID primitive.ObjectID) (SeatRef, error) {
	i := FindSeat(seats, nom, prenom)
	if i < 0 {
		return SeatRef{}, ErrNoMatchingSeat
	}
	s := seats[i]
	ok := AvailableToNew(s)
	if !userID.IsZero() {
		ok = AvailableFor(s, userID)
	}
	if !ok {
		return SeatRef{}, ErrSeatUnavailable
	}
	return RefFor(seats, i)
}

// Available returns the seats open to a new claimant, in roster order.
func Available(seats []models.Seat) []models.Seat {
	out := make([]models.Seat, 0, len(seats))
	for _, s := range seats {
		if AvailableToNew(s) {
			out = append(out, s)
		}
	}
	return out
}

// OwnedIndex returns the index of the seat bound to userID, or -1.
func OwnedIndex(seats []models.Seat, userID primitive.ObjectID) int {
	for i, s := range seats {
		if s.OwnedBy(userID) {
			return i
		}
	}
	return -1
}
