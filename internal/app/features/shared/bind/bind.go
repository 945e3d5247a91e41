// Package bind decodes and validates JSON request bodies for the feature
// handlers.
package bind

import (
	"net/http"
	"strings"

	"github.com/dalemusser/classroll/internal/app/system/apierr"
	"github.com/dalemusser/classroll/internal/app/system/inputval"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxBody caps JSON request bodies.
const MaxBody = 64 << 10

// JSON decodes the body into dst and runs its validate tags. The returned
// error is an *apierr.Error ready for apierr.Write.
func JSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := apierr.DecodeJSON(w, r, dst, MaxBody); err != nil {
		return err
	}
	return Check(dst)
}

// Check validates an already decoded value.
func Check(v any) error {
	res := inputval.Validate(v)
	if !res.HasErrors() {
		return nil
	}
	fields := make([]apierr.FieldError, len(res.Errors))
	for i, e := range res.Errors {
		fields[i] = apierr.FieldError{Field: e.Field, Message: e.Message}
	}
	return apierr.ValidationFields(fields)
}

// ObjectID parses a hex id supplied by the client.
func ObjectID(field, s string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(strings.TrimSpace(s))
	if err != nil {
		return primitive.NilObjectID, apierr.ValidationFields([]apierr.FieldError{
			{Field: field, Message: "invalid identifier"},
		})
	}
	return id, nil
}
