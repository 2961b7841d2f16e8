package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const usersCollection = "usuarios"

type userRepoMongo struct {
	coll *mongo.Collection
}

func NewUserRepoMongo(database *mongo.Database) UserRepository {
	return &userRepoMongo{coll: database.Collection(usersCollection)}
}

// EnsureIndexes creates the unique email index.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("create usuarios indexes: %w", err)
	}
	return nil
}

func (r *userRepoMongo) Create(ctx context.Context, u *User) error {
	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoMongo) findOne(ctx context.Context, filter bson.M) (*User, error) {
	var u User
	if err := r.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (r *userRepoMongo) GetByID(ctx context.Context, id string) (*User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *userRepoMongo) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *userRepoMongo) ListByIDs(ctx context.Context, ids []string) ([]*User, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return []*User{}, nil
	}
	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find().SetSort(bson.D{{Key: "nombre", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users := []*User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (r *userRepoMongo) AddAssignedPatient(ctx context.Context, doctorID, patientID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": doctorID},
		bson.M{"$addToSet": bson.M{"pacientesAsignados": patientID}},
	)
	if err != nil {
		return fmt.Errorf("assign patient: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepoMongo) SetLinkedPatient(ctx context.Context, caregiverID, patientID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": caregiverID},
		bson.M{"$set": bson.M{"pacienteAsociado": patientID}},
	)
	if err != nil {
		return fmt.Errorf("link patient: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
