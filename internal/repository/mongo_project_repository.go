package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pbn-studio/engine/internal/models"
	appErr "github.com/pbn-studio/engine/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoProjectRepository embeds the progress log in the project document, so
// deleting a project removes its entries in the same write.
type mongoProjectRepository struct {
	coll *mongo.Collection
}

func NewMongoProjectRepository(db *mongo.Database) ProjectRepository {
	return &mongoProjectRepository{coll: db.Collection(projectsCollection)}
}

func (r *mongoProjectRepository) Create(ctx context.Context, p *models.Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if _, err := r.coll.InsertOne(ctx, toProjectDoc(p)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return appErr.Wrap(err, appErr.CodeAlreadyExists, "project already exists")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "create project failed")
	}
	return nil
}

func (r *mongoProjectRepository) findOne(ctx context.Context, filter bson.M, dest *models.Project) error {
	var d projectDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return appErr.New(appErr.CodeNotFound, "project not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get project failed")
	}
	d.toModel(dest)
	return nil
}

func (r *mongoProjectRepository) GetByID(ctx context.Context, id any, dest *models.Project) error {
	return r.findOne(ctx, bson.M{"_id": idString(id)}, dest)
}

func (r *mongoProjectRepository) GetByName(ctx context.Context, name string, dest *models.Project) error {
	return r.findOne(ctx, bson.M{"name": name}, dest)
}

func (r *mongoProjectRepository) Update(ctx context.Context, p *models.Project) error {
	p.UpdatedAt = time.Now().UTC()
	d := toProjectDoc(p)
	// progress is owned by AppendProgress and ResetProgress
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": d.ID}, bson.M{"$set": bson.M{
		"name":             d.Name,
		"system_prompt":    d.SystemPrompt,
		"user_prompt":      d.UserPrompt,
		"site_count":       d.SiteCount,
		"interval_seconds": d.IntervalSeconds,
		"status":           d.Status,
		"is_running":       d.IsRunning,
		"next_run_at":      d.NextRunAt,
		"last_error":       d.LastError,
		"updated_at":       d.UpdatedAt,
	}})
	return r.checkUpdate(res, err, "update project failed")
}

func (r *mongoProjectRepository) checkUpdate(res *mongo.UpdateResult, err error, msg string) error {
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return appErr.Wrap(err, appErr.CodeAlreadyExists, "project name already exists")
		}
		return appErr.Wrap(err, appErr.CodeInternal, msg)
	}
	if res.MatchedCount == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return nil
}

func (r *mongoProjectRepository) Delete(ctx context.Context, id any) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": idString(id)})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "delete project failed")
	}
	if res.DeletedCount == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return nil
}

func (r *mongoProjectRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Project, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list projects failed")
	}
	defer cur.Close(ctx)

	var docs []projectDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "decode projects failed")
	}
	out := make([]models.Project, len(docs))
	for i := range docs {
		docs[i].toModel(&out[i])
	}
	return out, nil
}

func (r *mongoProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	return r.find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (r *mongoProjectRepository) ExistsByName(ctx context.Context, name string, excludeID uuid.UUID) (bool, error) {
	filter := bson.M{"name": name}
	if excludeID != uuid.Nil {
		filter["_id"] = bson.M{"$ne": excludeID.String()}
	}
	n, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "check project name failed")
	}
	return n > 0, nil
}

func (r *mongoProjectRepository) UpdateDefinition(ctx context.Context, projectID uuid.UUID, def ProjectDefinition) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": projectID.String()}, bson.M{"$set": bson.M{
		"name":             def.Name,
		"system_prompt":    def.SystemPrompt,
		"user_prompt":      def.UserPrompt,
		"site_count":       def.SiteCount,
		"interval_seconds": def.IntervalSeconds,
		"updated_at":       time.Now().UTC(),
	}})
	return r.checkUpdate(res, err, "update project failed")
}

func (r *mongoProjectRepository) ClaimRun(ctx context.Context, projectID uuid.UUID, runID string, nextRunAt time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": projectID.String(), "is_running": false},
		bson.M{"$set": bson.M{
			"status":      models.StatusRunning,
			"is_running":  true,
			"next_run_at": nextRunAt.UTC(),
			"run_id":      runID,
			"last_error":  "",
			"updated_at":  time.Now().UTC(),
		}})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "claim project run failed")
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": projectID.String()})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "claim project run failed")
	}
	if n == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return appErr.New(appErr.CodeConflict, "project already running")
}

func (r *mongoProjectRepository) SetState(ctx context.Context, projectID uuid.UUID, state ProjectState) error {
	var next *time.Time
	if state.NextRunAt != nil {
		t := state.NextRunAt.UTC()
		next = &t
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": projectID.String()}, bson.M{"$set": bson.M{
		"status":      state.Status,
		"is_running":  state.IsRunning,
		"next_run_at": next,
		"last_error":  state.LastError,
		"updated_at":  time.Now().UTC(),
	}})
	return r.checkUpdate(res, err, "update project state failed")
}

func (r *mongoProjectRepository) SetNextRunAt(ctx context.Context, projectID uuid.UUID, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": projectID.String()}, bson.M{"$set": bson.M{
		"next_run_at": at.UTC(),
	}})
	return r.checkUpdate(res, err, "update next run failed")
}

func (r *mongoProjectRepository) ResetProgress(ctx context.Context, projectID uuid.UUID) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": projectID.String()}, bson.M{"$set": bson.M{
		"progress": []progressDoc{},
	}})
	return r.checkUpdate(res, err, "reset progress failed")
}

// AppendProgress pushes only if the log length is unchanged since it was read,
// so concurrent appends cannot share a position.
func (r *mongoProjectRepository) AppendProgress(ctx context.Context, projectID uuid.UUID, entry *models.ProgressEntry) error {
	var p models.Project
	if err := r.GetByID(ctx, projectID, &p); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.ProjectID = projectID
	entry.Position = len(p.Progress) + 1

	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": projectID.String(), "progress": bson.M{"$size": len(p.Progress)}},
		bson.M{
			"$push": bson.M{"progress": toProgressDoc(entry)},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "append progress failed")
	}
	if res.MatchedCount == 0 {
		return appErr.New(appErr.CodeConflict, "progress position already taken")
	}
	return nil
}

func (r *mongoProjectRepository) ListDueRunning(ctx context.Context, before time.Time) ([]models.Project, error) {
	return r.find(ctx,
		bson.M{"is_running": true, "next_run_at": bson.M{"$ne": nil, "$lt": before.UTC()}},
		options.Find().SetSort(bson.D{{Key: "next_run_at", Value: 1}}))
}

// EnsureMongoIndexes creates the unique and lookup indexes the repositories rely on.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if _, err := db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_username"),
	}); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create users index failed")
	}
	if _, err := db.Collection(projectsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_project_name"),
		},
		{
			Keys:    bson.D{{Key: "is_running", Value: 1}, {Key: "next_run_at", Value: 1}},
			Options: options.Index().SetName("idx_running_next_run"),
		},
	}); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create projects index failed")
	}
	return nil
}
