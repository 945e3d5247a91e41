package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
Errors are aggregated so every problem shows up and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	if err := ensureUsers(ctx, db); err != nil {
		problems = append(problems, "users: "+err.Error())
	}
	if err := ensureClasses(ctx, db); err != nil {
		problems = append(problems, "classes: "+err.Error())
	}
	if err := ensureAuditEvents(ctx, db); err != nil {
		problems = append(problems, "audit_events: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Reconciler: make one collection's indexes match the desired set            */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name    string `bson:"name"`
	Key     bson.D `bson:"key"`
	Unique  *bool  `bson:"unique,omitempty"`
	TTL     *int32 `bson:"expireAfterSeconds,omitempty"`
	Partial bson.D `bson:"partialFilterExpression,omitempty"`
}

// spec is the comparable shape of an index: key pattern plus the options
// whose change requires a drop and recreate.
type spec struct {
	name    string
	keys    string
	unique  bool
	ttl     int32
	hasTTL  bool
	partial string
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func docSig(v any) string {
	if v == nil {
		return ""
	}
	b, err := bson.MarshalExtJSON(v, false, false)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func desiredSpec(m mongo.IndexModel) spec {
	s := spec{keys: keySig(m.Keys.(bson.D))}
	if o := m.Options; o != nil {
		if o.Name != nil {
			s.name = *o.Name
		}
		s.unique = o.Unique != nil && *o.Unique
		if o.ExpireAfterSeconds != nil {
			s.ttl, s.hasTTL = *o.ExpireAfterSeconds, true
		}
		if o.PartialFilterExpression != nil {
			s.partial = docSig(o.PartialFilterExpression)
		}
	}
	return s
}

func existingSpec(ix existingIndex) spec {
	s := spec{name: ix.Name, keys: keySig(ix.Key), unique: ix.Unique != nil && *ix.Unique}
	if ix.TTL != nil {
		s.ttl, s.hasTTL = *ix.TTL, true
	}
	if len(ix.Partial) > 0 {
		s.partial = docSig(ix.Partial)
	}
	return s
}

func (s spec) sameOptions(o spec) bool {
	return s.unique == o.unique && s.hasTTL == o.hasTTL && s.ttl == o.ttl && s.partial == o.partial
}

func listIndexes(ctx context.Context, coll *mongo.Collection) (map[string]spec, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := map[string]spec{}
	for cur.Next(ctx) {
		var ix existingIndex
		if err := cur.Decode(&ix); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		out[keySig(ix.Key)] = existingSpec(ix)
	}
	return out, cur.Err()
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	existing, err := listIndexes(ctx, coll)
	if err != nil {
		// A collection that does not exist yet lists as empty on most servers.
		zap.L().Warn("list indexes failed", zap.String("collection", coll.Name()), zap.Error(err))
		existing = map[string]spec{}
	}

	var errs []string
	for _, m := range models {
		want := desiredSpec(m)
		start := time.Now()

		if have, ok := existing[want.keys]; ok {
			if have.sameOptions(want) && (want.name == "" || have.name == want.name) {
				zap.L().Debug("reusing existing index",
					zap.String("collection", coll.Name()),
					zap.String("name", have.name))
				continue
			}
			zap.L().Info("replacing index",
				zap.String("collection", coll.Name()),
				zap.String("from", have.name),
				zap.String("to", want.name),
				zap.String("keys", want.keys))
			if _, err := coll.Indexes().DropOne(ctx, have.name); err != nil {
				errs = append(errs, fmt.Sprintf("%s(%s): drop failed: %v", coll.Name(), want.name, err))
				continue
			}
		}

		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			errs = append(errs, describeCreateErr(coll.Name(), want, err))
			zap.L().Warn("index ensure failed",
				zap.String("collection", coll.Name()),
				zap.String("name", want.name),
				zap.String("keys", want.keys),
				zap.Error(err))
			continue
		}
		zap.L().Info("index ensured",
			zap.String("collection", coll.Name()),
			zap.String("name", want.name),
			zap.String("keys", want.keys),
			zap.Bool("unique", want.unique),
			zap.Duration("took", time.Since(start)))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func describeCreateErr(coll string, want spec, err error) string {
	if want.unique && mongo.IsDuplicateKeyError(err) {
		finder := ""
		if field, _, ok := strings.Cut(want.keys, ":"); ok {
			finder = fmt.Sprintf(" (find them with db.%s.aggregate([{$group:{_id:\"$%s\",n:{$sum:1}}},{$match:{n:{$gt:1}}}]))", coll, field)
		}
		return fmt.Sprintf("%s(%s): cannot create unique index, duplicates present%s", coll, want.name, finder)
	}
	return fmt.Sprintf("%s(%s): %v", coll, want.name, err)
}

/* -------------------------------------------------------------------------- */
/* Collections                                                                */
/* -------------------------------------------------------------------------- */

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("users")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("uniq_users_email").SetUnique(true),
		},
		{
			// Legacy accounts predate the dedup key.
			Keys: bson.D{{Key: "dedupKey", Value: 1}},
			Options: options.Index().
				SetName("uniq_users_dedupkey").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"dedupKey": bson.M{"$type": "string"}}),
		},
		{
			// Pending signups disappear once signupExpiresAt passes. Verified
			// accounts never carry the field, and the filter keeps them safe
			// if one ever does.
			Keys: bson.D{{Key: "signupExpiresAt", Value: 1}},
			Options: options.Index().
				SetName("ttl_users_signup_pending").
				SetExpireAfterSeconds(0).
				SetPartialFilterExpression(bson.M{"isVerified": false}),
		},
		{
			Keys:    bson.D{{Key: "follow.classe", Value: 1}},
			Options: options.Index().SetName("idx_users_follow_classe"),
		},
	})
}

func ensureClasses(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("classes")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "directoryname", Value: 1}},
			Options: options.Index().SetName("uniq_classes_directoryname").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "code", Value: 1}, {Key: "active", Value: 1}},
			Options: options.Index().SetName("idx_classes_code_active"),
		},
		{
			Keys:    bson.D{{Key: "students.id_user", Value: 1}},
			Options: options.Index().SetName("idx_classes_students_user"),
		},
		{
			Keys:    bson.D{{Key: "visibleTo", Value: 1}},
			Options: options.Index().SetName("idx_classes_visibleto"),
		},
	})
}

func ensureAuditEvents(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("audit_events")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "class_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_class_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_user_timestamp"),
		},
		{
			Keys:    bson.D{{Key: "category", Value: 1}, {Key: "event_type", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_audit_category_event_timestamp"),
		},
	})
}
