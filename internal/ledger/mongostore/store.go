// Package mongostore keeps the ledger in MongoDB. Multi-document transactions
// need a replica set or sharded cluster.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"mindvault/credit-service/internal/ledger"
)

const (
	accountsCollection = "accounts"
	eventsCollection   = "processed_events"
)

type Store struct {
	client   *mongo.Client
	accounts *mongo.Collection
	events   *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{
		client:   db.Client(),
		accounts: db.Collection(accountsCollection),
		events:   db.Collection(eventsCollection),
	}
}

// EnsureIndexes creates the collections' indexes. It must run before the first
// transaction since collections cannot be created implicitly inside one on
// older servers.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	// _id is the event id, so uniqueness is enforced by the server already
	_, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "recordedAt", Value: -1}},
	})
	return err
}

// WithinTx runs fn in a majority transaction. Transient errors, such as a write
// conflict with a concurrent attempt on the same event, restart fn; on the
// retry the committed winner's record is visible and fn sees a duplicate.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(context.Background())

	opts := options.Transaction().
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &mongoTx{store: s})
	}, opts)
	return err
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	return s.findAccount(ctx, userID)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) findAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx, bson.M{"userId": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toAccount(), nil
}

// mongoTx methods must be called with the SessionContext handed to fn.
type mongoTx struct {
	store *Store
}

// TryRecordEvent upserts the event document keyed by _id. A duplicate-key
// error would abort the whole server-side transaction, so the insert is
// expressed as an upsert that reports whether it created the document.
func (t *mongoTx) TryRecordEvent(ctx context.Context, eventID string) (bool, error) {
	res, err := t.store.events.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$setOnInsert": bson.M{"recordedAt": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return res.UpsertedCount == 1, nil
}

// UpsertAndIncrement checks the current counters first; a concurrent writer
// between the read and the $inc causes a write conflict and a retry.
func (t *mongoTx) UpsertAndIncrement(ctx context.Context, userID string, credits, bonus int64) (*ledger.Account, error) {
	current, err := t.store.findAccount(ctx, userID)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		current = &ledger.Account{UserID: userID}
	case err != nil:
		return nil, err
	}
	if !ledger.CanAdd(*current, credits, bonus) {
		return nil, ledger.ErrCounterOverflow
	}

	now := time.Now()
	filter := bson.M{"userId": userID}
	update := bson.M{
		"$inc": bson.M{"credits": credits, "bonusUnits": bonus},
		"$setOnInsert": bson.M{
			"userId":    userID,
			"createdAt": now,
		},
		"$set": bson.M{"updatedAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc accountDoc
	if err := t.store.accounts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return doc.toAccount(), nil
}

func (t *mongoTx) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	return t.store.findAccount(ctx, userID)
}

type accountDoc struct {
	UserID     string    `bson:"userId"`
	Credits    int64     `bson:"credits"`
	BonusUnits int64     `bson:"bonusUnits"`
	CreatedAt  time.Time `bson:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func (d accountDoc) toAccount() *ledger.Account {
	return &ledger.Account{
		UserID:     d.UserID,
		Credits:    d.Credits,
		BonusUnits: d.BonusUnits,
		UpdatedAt:  d.UpdatedAt,
	}
}
