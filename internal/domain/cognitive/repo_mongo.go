package cognitive

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alzheon/alzheon/pkg/pagination"
)

const (
	templatesCollection   = "testtemplates"
	assignmentsCollection = "asignaciones"
	submissionsCollection = "submissions"
)

// EnsureIndexes creates the lookup indexes for assignments and submissions.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(assignmentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "paciente", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("paciente_recent")},
		{Keys: bson.D{{Key: "medico", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("medico_recent")},
	})
	if err != nil {
		return fmt.Errorf("create asignaciones indexes: %w", err)
	}
	_, err = database.Collection(submissionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "asignacion", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("asignacion_chrono"),
	})
	if err != nil {
		return fmt.Errorf("create submissions indexes: %w", err)
	}
	return nil
}

func findByID[T any](ctx context.Context, coll *mongo.Collection, id, what string) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return nil, fmt.Errorf("find %s: %w", what, err)
	}
	return &out, nil
}

// -- Templates --

type templateRepoMongo struct {
	coll *mongo.Collection
}

func NewTemplateRepoMongo(database *mongo.Database) TemplateRepository {
	return &templateRepoMongo{coll: database.Collection(templatesCollection)}
}

func (r *templateRepoMongo) Create(ctx context.Context, t *TestTemplate) error {
	if _, err := r.coll.InsertOne(ctx, t); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *templateRepoMongo) GetByID(ctx context.Context, id string) (*TestTemplate, error) {
	return findByID[TestTemplate](ctx, r.coll, id, "template")
}

func (r *templateRepoMongo) List(ctx context.Context, p pagination.Params) ([]*TestTemplate, int, error) {
	total, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}
	cur, err := r.coll.Find(ctx, bson.M{}, p.FindOptions().SetSort(bson.D{{Key: "nombre", Value: 1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	out := []*TestTemplate{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode templates: %w", err)
	}
	return out, int(total), nil
}

func (r *templateRepoMongo) ListByIDs(ctx context.Context, ids []string) ([]*TestTemplate, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return []*TestTemplate{}, nil
	}
	cur, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := []*TestTemplate{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	return out, nil
}

// -- Assignments --

type assignmentRepoMongo struct {
	coll *mongo.Collection
}

func NewAssignmentRepoMongo(database *mongo.Database) AssignmentRepository {
	return &assignmentRepoMongo{coll: database.Collection(assignmentsCollection)}
}

func (r *assignmentRepoMongo) Create(ctx context.Context, a *Assignment) error {
	if _, err := r.coll.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (r *assignmentRepoMongo) GetByID(ctx context.Context, id string) (*Assignment, error) {
	return findByID[Assignment](ctx, r.coll, id, "assignment")
}

func assignmentQuery(f AssignmentFilter) bson.M {
	q := bson.M{}
	if f.DoctorID != "" {
		q["medico"] = f.DoctorID
	}
	if f.PatientID != "" {
		q["paciente"] = f.PatientID
	}
	if f.Estado != "" {
		q["estado"] = f.Estado
	}
	return q
}

func (r *assignmentRepoMongo) List(ctx context.Context, f AssignmentFilter, p pagination.Params) ([]*Assignment, int, error) {
	q := assignmentQuery(f)
	total, err := r.coll.CountDocuments(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	cur, err := r.coll.Find(ctx, q, p.FindOptions().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	out := []*Assignment{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, fmt.Errorf("decode assignments: %w", err)
	}
	return out, int(total), nil
}

func (r *assignmentRepoMongo) MarkCompleted(ctx context.Context, id string) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"estado": EstadoCompletada}})
	if err != nil {
		return fmt.Errorf("complete assignment: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("assignment: %w", ErrNotFound)
	}
	return nil
}

// -- Submissions --

type submissionRepoMongo struct {
	coll *mongo.Collection
}

func NewSubmissionRepoMongo(database *mongo.Database) SubmissionRepository {
	return &submissionRepoMongo{coll: database.Collection(submissionsCollection)}
}

func (r *submissionRepoMongo) Create(ctx context.Context, s *Submission) error {
	if _, err := r.coll.InsertOne(ctx, s); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *submissionRepoMongo) GetByID(ctx context.Context, id string) (*Submission, error) {
	return findByID[Submission](ctx, r.coll, id, "submission")
}

func (r *submissionRepoMongo) ListByAssignment(ctx context.Context, assignmentID string) ([]*Submission, error) {
	cur, err := r.coll.Find(ctx, bson.M{"asignacion": assignmentID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := []*Submission{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	return out, nil
}
