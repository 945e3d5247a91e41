package validators

import (
	"context"
	"errors"
	"strings"

	"github.com/dalemusser/classroll/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates collections (if missing) and attaches JSON-Schema
// validators. Validation is "moderate", so documents written by the previous
// deployment that do not match are left alone until they are next updated.
// Servers without collMod support are logged and skipped.
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema); err != nil {
			if unsupported(err) {
				zap.L().Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("users", usersSchema())
	ensure("classes", classesSchema())
	ensure("audit_events", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ensureCollection creates name unless it already exists.
func ensureCollection(ctx context.Context, db *mongo.Database, name string) (created bool, err error) {
	names, listErr := db.ListCollectionNames(ctx, bson.M{"name": name})
	if listErr == nil && len(names) > 0 {
		return false, nil
	}
	// Listing can fail on restricted users; a create race is handled below.
	if err := db.CreateCollection(ctx, name); err != nil {
		if commandFailed(err, 48, "already exists", "namespace exists") {
			return false, nil
		}
		zap.L().Warn("createCollection failed", zap.String("collection", name), zap.Error(err))
		return false, err
	}
	zap.L().Info("created collection", zap.String("collection", name))
	return true, nil
}

func setValidator(ctx context.Context, db *mongo.Database, name string, validator bson.M) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	if err := db.RunCommand(ctx, cmd).Err(); err != nil {
		return err
	}
	zap.L().Info("validator ensured", zap.String("collection", name))
	return nil
}

// commandFailed reports whether err is a server error with the given code
// or a message containing one of the phrases.
func commandFailed(err error, code int32, phrases ...string) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == code {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func unsupported(err error) bool {
	return commandFailed(err, 59, "no such command") ||
		commandFailed(err, 115, "not implemented", "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

var nonBlank = bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"}

func usersSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"nom", "prenom", "email", "password", "isVerified"},
			"properties": bson.M{
				"nom":             nonBlank,
				"prenom":          nonBlank,
				"dedupKey":        bson.M{"bsonType": "string"},
				"email":           nonBlank,
				"password":        nonBlank,
				"isVerified":      bson.M{"bsonType": "bool"},
				"confirmExpires":  bson.M{"bsonType": bson.A{"date", "null"}},
				"signupExpiresAt": bson.M{"bsonType": bson.A{"date", "null"}},
				"status":          bson.M{"enum": bson.A{models.StatusStudent, models.StatusTeacher}},
				"active":          bson.M{"bsonType": "bool"},
				// Entries are {classe, role} or, in older documents, a bare class id.
				"follow": bson.M{
					"bsonType": "array",
					"items": bson.M{
						"bsonType": bson.A{"object", "objectId"},
						"properties": bson.M{
							"classe": bson.M{"bsonType": "objectId"},
							"role":   bson.M{"enum": bson.A{models.RoleUser, models.RoleAdmin}},
						},
					},
				},
			},
		},
	}
}

func classesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"directoryname", "students"},
			"properties": bson.M{
				"directoryname": nonBlank,
				"publicname":    bson.M{"bsonType": "string"},
				"code":          bson.M{"bsonType": "string"},
				"codeExpires":   bson.M{"bsonType": bson.A{"date", "null"}},
				"active":        bson.M{"bsonType": "bool"},
				"students": bson.M{
					"bsonType": "array",
					"items": bson.M{
						"bsonType": "object",
						"required": bson.A{"nom", "prenom"},
						"properties": bson.M{
							"nom":     bson.M{"bsonType": "string"},
							"prenom":  bson.M{"bsonType": "string"},
							"free":    bson.M{"bsonType": "bool"},
							"id_user": bson.M{"bsonType": bson.A{"objectId", "null"}},
						},
					},
				},
				"repertoires": bson.M{
					"bsonType": "array",
					"items":    bson.M{"bsonType": bson.A{"object", "string"}},
				},
				"visibleTo": bson.M{
					"bsonType": "array",
					"items":    bson.M{"bsonType": "objectId"},
				},
			},
		},
	}
}
