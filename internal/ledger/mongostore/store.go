// Package mongostore keeps each user's ledger in a single MongoDB document,
// so point increments and event appends for one submission are one
// single-document update.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bowerhall/tally/internal/ledger"
	"github.com/bowerhall/tally/internal/logger"
)

const usersCollection = "users"

type Config struct {
	URI      string
	Database string
}

type Store struct {
	client *mongo.Client
	users  *mongo.Collection
}

var _ ledger.Store = (*Store)(nil)

func Open(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &Store{
		client: client,
		users:  client.Database(cfg.Database).Collection(usersCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	return s, nil
}

// ensureIndexes makes user_id unique, which is what lets the
// create-if-absent updates below detect an existing habit name.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create user_id index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) EnsureUser(ctx context.Context, userID, chatID int64, transport string, now time.Time) (bool, error) {
	update := bson.M{
		"$setOnInsert": bson.M{
			"habits":          bson.A{},
			"events":          bson.A{},
			"journal_entries": bson.A{},
			"last_activity":   now,
		},
	}
	set := bson.M{}
	if chatID != 0 {
		set["chat_id"] = chatID
	}
	if transport != "" {
		set["transport"] = transport
	}
	if len(set) > 0 {
		update["$set"] = set
	}

	res, err := s.users.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("ensure user %d: %w", userID, err)
	}

	return res.UpsertedCount > 0, nil
}

func (s *Store) FindUser(ctx context.Context, userID int64) (*ledger.User, error) {
	var u ledger.User

	err := s.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", userID, err)
	}

	return &u, nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	values, err := s.users.Distinct(ctx, "user_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	ids := make([]int64, 0, len(values))
	for _, v := range values {
		switch id := v.(type) {
		case int64:
			ids = append(ids, id)
		case int32:
			ids = append(ids, int64(id))
		case float64:
			ids = append(ids, int64(id))
		default:
			logger.Warn("skipping user with unexpected id type", "id", v)
		}
	}

	return ids, nil
}

func (s *Store) RecentEvents(ctx context.Context, userID int64, n int) ([]ledger.Event, error) {
	if n <= 0 {
		u, err := s.FindUser(ctx, userID)
		if errors.Is(err, ledger.ErrUserNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return u.Events, nil
	}

	var u ledger.User

	opts := options.FindOne().SetProjection(bson.M{"events": bson.M{"$slice": -n}})
	err := s.users.FindOne(ctx, bson.M{"user_id": userID}, opts).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recent events for user %d: %w", userID, err)
	}

	return u.Events, nil
}

func (s *Store) DistinctHabitNames(ctx context.Context, userID int64) ([]string, error) {
	values, err := s.users.Distinct(ctx, "habits.name", bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("habit names for user %d: %w", userID, err)
	}

	names := make([]string, 0, len(values))
	for _, v := range values {
		if name, ok := v.(string); ok {
			names = append(names, name)
		}
	}

	return names, nil
}

func (s *Store) RecordEvidence(ctx context.Context, userID int64, ev ledger.Event, newHabit *ledger.Habit) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if newHabit != nil {
		h := *newHabit
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		if h.Type == "" {
			h.Type = ledger.DefaultHabitType
		}
		ev.HabitID = h.ID
		ev.HabitName = h.Name

		created, err := s.pushHabit(ctx, userID, h, &ev)
		if err != nil {
			return err
		}
		if created {
			return nil
		}

		// the name is taken: credit the existing habit instead
		existing, err := s.habitByName(ctx, userID, h.Name)
		if err != nil {
			return err
		}
		ev.HabitID = existing.ID
	}

	filter := bson.M{"user_id": userID}
	if ev.HabitID != "" {
		filter["habits.id"] = ev.HabitID
	} else {
		filter["habits.name"] = ev.HabitName
	}

	update := bson.M{
		"$inc":  bson.M{"habits.$.points": ev.Score},
		"$set":  bson.M{"habits.$.last_activity": ev.Timestamp, "last_activity": ev.Timestamp},
		"$push": bson.M{"events": ev},
	}

	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("record evidence for %q: %w", ev.HabitName, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("record evidence for %q: %w", ev.HabitName, ledger.ErrHabitNotFound)
	}

	return nil
}

func (s *Store) AddHabitIfAbsent(ctx context.Context, userID int64, habit ledger.Habit) (bool, error) {
	if habit.ID == "" {
		habit.ID = uuid.NewString()
	}
	if habit.Type == "" {
		habit.Type = ledger.DefaultHabitType
	}

	return s.pushHabit(ctx, userID, habit, nil)
}

// pushHabit appends habit (and ev, when given) unless the user already has a
// habit with that exact name. Upserting against the unique user_id index
// turns "name taken" into a duplicate-key error instead of a second document.
func (s *Store) pushHabit(ctx context.Context, userID int64, habit ledger.Habit, ev *ledger.Event) (bool, error) {
	filter := bson.M{"user_id": userID, "habits.name": bson.M{"$ne": habit.Name}}

	push := bson.M{"habits": habit}
	if ev != nil {
		push["events"] = *ev
	}

	update := bson.M{
		"$push": push,
		"$set":  bson.M{"last_activity": habit.LastActivity},
	}

	_, err := s.users.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add habit %q: %w", habit.Name, err)
	}

	return true, nil
}

func (s *Store) habitByName(ctx context.Context, userID int64, name string) (ledger.Habit, error) {
	u, err := s.FindUser(ctx, userID)
	if err != nil {
		return ledger.Habit{}, err
	}

	for _, h := range u.Habits {
		if h.Name == name {
			return h, nil
		}
	}

	return ledger.Habit{}, fmt.Errorf("habit %q: %w", name, ledger.ErrHabitNotFound)
}

func (s *Store) RenameHabit(ctx context.Context, userID int64, habitID, from, to string, now time.Time) error {
	filter := bson.M{"user_id": userID}
	set := bson.M{
		"habits.$.name":          to,
		"habits.$.last_activity": now,
		"last_activity":          now,
	}

	legacy := habitID == ""
	if legacy {
		habitID = uuid.NewString()
		filter["habits"] = bson.M{"$elemMatch": bson.M{"name": from, "id": missingID}}
		set["habits.$.id"] = habitID
	} else {
		filter["habits.id"] = habitID
	}

	res, err := s.users.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("rename habit %q: %w", from, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("rename habit %q: %w", from, ledger.ErrHabitNotFound)
	}

	if legacy {
		return s.linkEvents(ctx, userID, from, habitID)
	}

	return nil
}

// missingID matches a habit_id or id field that is absent, null or empty.
var missingID = bson.M{"$in": bson.A{nil, ""}}

// linkEvents stamps habitID on the unlinked events recorded under name, so
// they stay with the habit once it no longer carries that name.
func (s *Store) linkEvents(ctx context.Context, userID int64, name, habitID string) error {
	filter := bson.M{
		"user_id": userID,
		"events":  bson.M{"$elemMatch": bson.M{"habit_name": name, "habit_id": missingID}},
	}
	update := bson.M{"$set": bson.M{"events.$[e].habit_id": habitID}}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"e.habit_name": name, "e.habit_id": missingID}},
	})

	if _, err := s.users.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("link events to habit %q: %w", name, err)
	}

	return nil
}

func (s *Store) AppendJournalEntry(ctx context.Context, userID int64, entry ledger.JournalEntry) error {
	update := bson.M{
		"$push": bson.M{"journal_entries": entry},
		"$set":  bson.M{"last_activity": entry.Timestamp},
	}

	_, err := s.users.UpdateOne(ctx, bson.M{"user_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}

	return nil
}
