// Package mongostore persists users and tasks in MongoDB. Users live in the
// "users" collection with their session list and avatar embedded; tasks live
// in "tasks" and reference their owner by user id.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/user/taskmanager-go/auth"
	"github.com/user/taskmanager-go/tasks"
)

const (
	usersCollection = "users"
	tasksCollection = "tasks"
)

// Store wraps one database handle.
type Store struct {
	db *mongo.Database
}

// New returns a Store over db. Call EnsureIndexes once before serving.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// EnsureIndexes creates the unique email index and the task owner index.
// Creating an index that already exists is a no-op.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return err
	}
	_, err = s.db.Collection(tasksCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("owner_created"),
	})
	return err
}

// Users returns the Store as an auth.UserRepository.
func (s *Store) Users() auth.UserRepository {
	return &userRepo{coll: s.db.Collection(usersCollection)}
}

// Tasks returns the Store as a tasks.Repository.
func (s *Store) Tasks() tasks.Repository {
	return &taskRepo{coll: s.db.Collection(tasksCollection)}
}

type tokenDocument struct {
	Token string `bson:"token"`
}

type userDocument struct {
	ID        string          `bson:"_id"`
	Name      string          `bson:"name"`
	Email     string          `bson:"email"`
	Password  string          `bson:"password"`
	Age       int             `bson:"age"`
	Avatar    []byte          `bson:"avatar,omitempty"`
	Tokens    []tokenDocument `bson:"tokens"`
	CreatedAt time.Time       `bson:"createdAt"`
	UpdatedAt time.Time       `bson:"updatedAt"`
}

func toUserDocument(u *auth.User) userDocument {
	doc := userDocument{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Password:  u.Password,
		Age:       u.Age,
		Avatar:    u.Avatar,
		Tokens:    make([]tokenDocument, 0, len(u.Tokens)),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	for _, t := range u.Tokens {
		doc.Tokens = append(doc.Tokens, tokenDocument{Token: t.Token})
	}
	return doc
}

func (d userDocument) toUser() *auth.User {
	u := &auth.User{
		ID:        d.ID,
		Name:      d.Name,
		Email:     d.Email,
		Password:  d.Password,
		Age:       d.Age,
		Avatar:    d.Avatar,
		Tokens:    make([]auth.Token, 0, len(d.Tokens)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, t := range d.Tokens {
		u.Tokens = append(u.Tokens, auth.Token{Token: t.Token})
	}
	return u
}

type userRepo struct {
	coll *mongo.Collection
}

func (r *userRepo) Create(ctx context.Context, u *auth.User) error {
	_, err := r.coll.InsertOne(ctx, toUserDocument(u))
	if mongo.IsDuplicateKeyError(err) {
		return auth.ErrEmailTaken
	}
	return err
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *userRepo) findOne(ctx context.Context, filter bson.M) (*auth.User, error) {
	var doc userDocument
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toUser(), nil
}

func (r *userRepo) Update(ctx context.Context, u *auth.User) error {
	err := r.updateOne(ctx, u.ID, bson.M{"$set": bson.M{
		"name":      u.Name,
		"email":     u.Email,
		"password":  u.Password,
		"age":       u.Age,
		"updatedAt": u.UpdatedAt,
	}})
	if mongo.IsDuplicateKeyError(err) {
		return auth.ErrEmailTaken
	}
	return err
}

func (r *userRepo) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

func (r *userRepo) AppendToken(ctx context.Context, userID string, t auth.Token) error {
	return r.updateOne(ctx, userID, bson.M{"$push": bson.M{"tokens": tokenDocument{Token: t.Token}}})
}

func (r *userRepo) RemoveToken(ctx context.Context, userID, token string) error {
	return r.updateOne(ctx, userID, bson.M{"$pull": bson.M{"tokens": bson.M{"token": token}}})
}

func (r *userRepo) ClearTokens(ctx context.Context, userID string) error {
	return r.updateOne(ctx, userID, bson.M{"$set": bson.M{"tokens": bson.A{}}})
}

func (r *userRepo) SetAvatar(ctx context.Context, userID string, avatar []byte) error {
	if avatar == nil {
		return r.updateOne(ctx, userID, bson.M{"$unset": bson.M{"avatar": ""}})
	}
	return r.updateOne(ctx, userID, bson.M{"$set": bson.M{"avatar": avatar}})
}

func (r *userRepo) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

type taskDocument struct {
	ID          string    `bson:"_id"`
	Description string    `bson:"description"`
	Completed   bool      `bson:"completed"`
	Owner       string    `bson:"owner"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d taskDocument) toTask() *tasks.Task {
	t := tasks.Task(d)
	return &t
}

type taskRepo struct {
	coll *mongo.Collection
}

func (r *taskRepo) Create(ctx context.Context, t *tasks.Task) error {
	_, err := r.coll.InsertOne(ctx, taskDocument(*t))
	return err
}

func (r *taskRepo) FindByID(ctx context.Context, owner, id string) (*tasks.Task, error) {
	var doc taskDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": id, "owner": owner}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tasks.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toTask(), nil
}

func (r *taskRepo) List(ctx context.Context, owner string, opts tasks.ListOptions) ([]*tasks.Task, error) {
	filter := bson.M{"owner": owner}
	if opts.Completed != nil {
		filter["completed"] = *opts.Completed
	}

	dir := 1
	if opts.Descending {
		dir = -1
	}
	find := options.Find().SetSort(bson.D{{Key: sortField(opts.SortBy), Value: dir}, {Key: "_id", Value: dir}})
	if opts.Limit > 0 {
		find.SetLimit(int64(opts.Limit))
	}
	if opts.Skip > 0 {
		find.SetSkip(int64(opts.Skip))
	}

	cur, err := r.coll.Find(ctx, filter, find)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []taskDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*tasks.Task, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toTask())
	}
	return out, nil
}

func (r *taskRepo) Update(ctx context.Context, t *tasks.Task) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": t.ID, "owner": t.Owner},
		bson.M{"$set": bson.M{
			"description": t.Description,
			"completed":   t.Completed,
			"updatedAt":   t.UpdatedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return tasks.ErrTaskNotFound
	}
	return nil
}

func (r *taskRepo) Delete(ctx context.Context, owner, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "owner": owner})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return tasks.ErrTaskNotFound
	}
	return nil
}

func (r *taskRepo) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"owner": owner})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func sortField(field string) string {
	switch field {
	case tasks.SortUpdatedAt, tasks.SortDescription, tasks.SortCompleted:
		return field
	default:
		return tasks.SortCreatedAt
	}
}
