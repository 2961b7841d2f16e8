package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	settingsCollection = "configuraciones"
	usersCollection    = "usuarios"
)

type settingsRepoMongo struct {
	settings *mongo.Collection
	users    *mongo.Collection
}

func NewSettingsRepoMongo(database *mongo.Database) SettingsRepository {
	return &settingsRepoMongo{
		settings: database.Collection(settingsCollection),
		users:    database.Collection(usersCollection),
	}
}

// EnsureIndexes creates the one-per-user and due-scan indexes.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(settingsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "usuario", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("usuario_unique"),
		},
		{
			Keys:    bson.D{{Key: "recordatorios.enabled", Value: 1}, {Key: "recordatorios.nextSession", Value: 1}},
			Options: options.Index().SetName("due_scan"),
		},
	})
	if err != nil {
		return fmt.Errorf("create configuraciones indexes: %w", err)
	}
	return nil
}

func (r *settingsRepoMongo) GetByUser(ctx context.Context, userID string) (*Settings, error) {
	var s Settings
	if err := r.settings.FindOne(ctx, bson.M{"usuario": userID}).Decode(&s); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find settings: %w", err)
	}
	return &s, nil
}

func (r *settingsRepoMongo) CreateIfAbsent(ctx context.Context, s *Settings) (*Settings, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.settings.UpdateOne(ctx,
		bson.M{"usuario": s.UserID},
		bson.M{"$setOnInsert": s},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("create settings: %w", err)
	}
	return r.GetByUser(ctx, s.UserID)
}

func (r *settingsRepoMongo) UpdateReminders(ctx context.Context, userID string, upd ReminderUpdate, now time.Time) (*Settings, error) {
	set := bson.M{
		"recordatorios.enabled":             upd.Enabled,
		"recordatorios.hour":                upd.Hour,
		"recordatorios.frequency":           upd.Frequency,
		"recordatorios.motivationalMessage": upd.MotivationalMessage,
		"updatedAt":                         now,
	}
	update := bson.M{"$set": set}
	switch {
	case upd.KeepNextSession:
	case upd.NextSession != nil:
		set["recordatorios.nextSession"] = *upd.NextSession
		update["$unset"] = bson.M{"recordatorios.retryAt": ""}
	default:
		update["$unset"] = bson.M{"recordatorios.nextSession": "", "recordatorios.retryAt": ""}
	}

	var s Settings
	err := r.settings.FindOneAndUpdate(ctx,
		bson.M{"usuario": userID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update reminders: %w", err)
	}
	return &s, nil
}

func (r *settingsRepoMongo) GetRecipient(ctx context.Context, userID string) (*Recipient, error) {
	var rcpt Recipient
	err := r.users.FindOne(ctx, bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{"nombre": 1, "email": 1}),
	).Decode(&rcpt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find recipient: %w", err)
	}
	return &rcpt, nil
}

// dueFilter matches enabled settings whose slot has passed, that no live
// claim holds and that are not waiting out a retry backoff.
func dueFilter(now time.Time) bson.M {
	return bson.M{
		"recordatorios.enabled":     true,
		"recordatorios.nextSession": bson.M{"$lte": now},
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"recordatorios.claimToken": bson.M{"$exists": false}},
				bson.M{"recordatorios.claimedUntil": bson.M{"$lte": now}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"recordatorios.retryAt": bson.M{"$exists": false}},
				bson.M{"recordatorios.retryAt": bson.M{"$lte": now}},
			}},
		},
	}
}

func (r *settingsRepoMongo) ListDue(ctx context.Context, now time.Time, limit int) ([]Due, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recordatorios.nextSession", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.settings.Find(ctx, dueFilter(now), opts)
	if err != nil {
		return nil, fmt.Errorf("find due settings: %w", err)
	}
	var settings []*Settings
	if err := cur.All(ctx, &settings); err != nil {
		return nil, fmt.Errorf("decode due settings: %w", err)
	}
	if len(settings) == 0 {
		return nil, nil
	}

	// populate usuario with a second query
	userIDs := lo.Uniq(lo.Map(settings, func(s *Settings, _ int) string { return s.UserID }))
	ucur, err := r.users.Find(ctx,
		bson.M{"_id": bson.M{"$in": userIDs}},
		options.Find().SetProjection(bson.M{"nombre": 1, "email": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("find due users: %w", err)
	}
	var users []*Recipient
	if err := ucur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode due users: %w", err)
	}
	byID := lo.KeyBy(users, func(u *Recipient) string { return u.ID })

	return lo.Map(settings, func(s *Settings, _ int) Due {
		return Due{Settings: s, User: byID[s.UserID]}
	}), nil
}

func (r *settingsRepoMongo) Claim(ctx context.Context, id, token string, now, until time.Time) (bool, error) {
	filter := dueFilter(now)
	filter["_id"] = id
	res, err := r.settings.UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{
			"recordatorios.claimToken":   token,
			"recordatorios.claimedUntil": until,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("claim settings %s: %w", id, err)
	}
	return res.MatchedCount == 1, nil
}

func (r *settingsRepoMongo) Reschedule(ctx context.Context, id, token string, sent Slot, next, sentAt time.Time) (bool, error) {
	res, err := r.settings.UpdateOne(ctx,
		bson.M{
			"_id":                      id,
			"recordatorios.claimToken": token,
			"recordatorios.enabled":    true,
			"recordatorios.hour":       sent.Hour,
			"recordatorios.frequency":  sent.Frequency,
		},
		bson.M{
			"$set": bson.M{
				"recordatorios.nextSession": next,
				"recordatorios.lastSentAt":  sentAt,
				"updatedAt":                 sentAt,
			},
			"$unset": bson.M{
				"recordatorios.claimToken":   "",
				"recordatorios.claimedUntil": "",
				"recordatorios.retryAt":      "",
			},
		},
	)
	if err != nil {
		return false, fmt.Errorf("reschedule settings %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	// The slot changed under the claim: record the send, keep the user's
	// nextSession.
	res, err = r.settings.UpdateOne(ctx,
		bson.M{"_id": id, "recordatorios.claimToken": token},
		bson.M{
			"$set": bson.M{"recordatorios.lastSentAt": sentAt},
			"$unset": bson.M{
				"recordatorios.claimToken":   "",
				"recordatorios.claimedUntil": "",
				"recordatorios.retryAt":      "",
			},
		},
	)
	if err != nil {
		return false, fmt.Errorf("reschedule settings %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return false, ErrClaimLost
	}
	return false, nil
}

func (r *settingsRepoMongo) Release(ctx context.Context, id, token string, retryAt time.Time) error {
	_, err := r.settings.UpdateOne(ctx,
		bson.M{"_id": id, "recordatorios.claimToken": token},
		bson.M{
			"$set":   bson.M{"recordatorios.retryAt": retryAt},
			"$unset": bson.M{"recordatorios.claimToken": "", "recordatorios.claimedUntil": ""},
		},
	)
	if err != nil {
		return fmt.Errorf("release settings %s: %w", id, err)
	}
	return nil
}

func (r *settingsRepoMongo) Postpone(ctx context.Context, id string, retryAt time.Time) error {
	_, err := r.settings.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"recordatorios.retryAt": retryAt}},
	)
	if err != nil {
		return fmt.Errorf("postpone settings %s: %w", id, err)
	}
	return nil
}
