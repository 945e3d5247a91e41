package enrollment

import (
	"errors"

	classroomstore "github.com/dalemusser/classroll/internal/app/store/classrooms"
	userstore "github.com/dalemusser/classroll/internal/app/store/users"
	"github.com/dalemusser/classroll/internal/app/system/apierr"
)

// Translate maps store sentinels to client-facing errors. Values that are
// already *apierr.Error pass through; anything unknown becomes Internal.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}

	switch {
	case errors.Is(err, classroomstore.ErrInvalidClassroom):
		return apierr.NewValidation(classroomstore.ErrInvalidClassroom.Error())
	case errors.Is(err, classroomstore.ErrNoMatchingSeat):
		e := apierr.NewValidation(classroomstore.ErrNoMatchingSeat.Error())
		e.Redirect = true
		return e
	case errors.Is(err, classroomstore.ErrSeatUnavailable):
		return apierr.NewConflict(classroomstore.ErrSeatUnavailable.Error(), err)
	case errors.Is(err, classroomstore.ErrInvalidRepertoireName):
		return apierr.NewValidation(classroomstore.ErrInvalidRepertoireName.Error())
	case errors.Is(err, classroomstore.ErrRosterBusy):
		return apierr.NewConflict(classroomstore.ErrRosterBusy.Error(), err)
	case errors.Is(err, classroomstore.ErrNotFound):
		return apierr.NewNotFound("classroom not found")
	case errors.Is(err, classroomstore.ErrSeatNotFound):
		return apierr.NewNotFound(classroomstore.ErrSeatNotFound.Error())
	case errors.Is(err, classroomstore.ErrRepertoireNotFound):
		return apierr.NewNotFound(classroomstore.ErrRepertoireNotFound.Error())
	case errors.Is(err, classroomstore.ErrDuplicateSeat),
		errors.Is(err, classroomstore.ErrDuplicateRepertoire),
		errors.Is(err, classroomstore.ErrDuplicateDirectory):
		return apierr.NewConflict(err.Error(), err)
	case errors.Is(err, userstore.ErrNotFound):
		return apierr.NewNotFound("user not found")
	case errors.Is(err, userstore.ErrDuplicateEmail),
		errors.Is(err, userstore.ErrDuplicateIdentity):
		return apierr.NewConflict(err.Error(), err)
	default:
		// Includes ErrInconsistentRoster: a server fault, never a client error.
		return apierr.NewInternal(err)
	}
}
