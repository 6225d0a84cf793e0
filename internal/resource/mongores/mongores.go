// Package mongores implements the MongoDB outbound Resource of §6
// (config_resource_mongodb_1) over go.mongodb.org/mongo-driver, built
// in the same Transactional shape as sqlres since MongoDB sessions
// support the same begin/commit/abort sequence the coordinator expects.
package mongores

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/classify"
	"github.com/dmitrydvoinikov/pythomnic-go/internal/corereq"
)

// Config carries the protocol-specific fields of config_resource_mongodb_1.
type Config struct {
	URI      string
	Database string
}

// Resource is a Transactional pythomnic Resource over a Mongo client
// session: BeginTransaction opens a session + StartTransaction,
// Execute runs a collection operation, Commit/Rollback end the
// session transaction.
type Resource struct {
	cfg     Config
	client  *mongo.Client
	db      *mongo.Database
	session mongo.Session
}

func New(cfg Config) *Resource { return &Resource{cfg: cfg} }

func (r *Resource) Connect(req *corereq.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(r.cfg.URI))
	if err != nil {
		return classify.ResourceError("", "", "mongo connect failed", true, true, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return classify.ResourceError("", "", "mongo ping failed", true, true, err)
	}
	r.client = client
	r.db = client.Database(r.cfg.Database)
	return nil
}

func (r *Resource) BeginTransaction(req *corereq.Request, xid string, options_ map[string]any, resourceArgs []any, resourceKwargs map[string]any) error {
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	session, err := r.client.StartSession()
	if err != nil {
		return classify.ResourceError("", "", "mongo session start failed", true, true, err)
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(ctx)
		return classify.ResourceError("", "", "mongo begin failed", true, true, err)
	}
	r.session = session
	return nil
}

// Execute runs args[0] as a collection name and args[1] as a BSON
// filter against Find — the minimal contract surface fixed for Mongo
// (deep query-builder semantics are out of scope, §1).
func (r *Resource) Execute(req *corereq.Request, args []any, kwargs map[string]any) (any, error) {
	if len(args) < 2 {
		return nil, classify.ResourceInput("mongo execute requires (collection, filter)", nil)
	}
	collName, ok := args[0].(string)
	if !ok {
		return nil, classify.ResourceInput("mongo execute first argument must be a collection name", nil)
	}
	filter, _ := args[1].(bson.M)
	if filter == nil {
		filter = bson.M{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()

	coll := r.db.Collection(collName)
	cursor, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, classify.ResourceError("", "", "mongo find failed", true, true, err)
	}
	defer cursor.Close(ctx)

	var out []bson.M
	if err := cursor.All(ctx, &out); err != nil {
		return nil, classify.ResourceError("", "", "mongo cursor decode failed", true, true, err)
	}
	return out, nil
}

func (r *Resource) Commit(req *corereq.Request) error {
	if r.session == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	err := r.session.CommitTransaction(ctx)
	r.session.EndSession(ctx)
	r.session = nil
	if err != nil {
		return classify.TransactionCommit("mongo commit failed", err)
	}
	return nil
}

func (r *Resource) Rollback(req *corereq.Request) error {
	if r.session == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	err := r.session.AbortTransaction(ctx)
	r.session.EndSession(ctx)
	r.session = nil
	return err
}

// Ping implements respool.LivenessChecker.
func (r *Resource) Ping(req *corereq.Request) error {
	ctx, cancel := context.WithTimeout(context.Background(), req.Remain())
	defer cancel()
	return r.client.Ping(ctx, nil)
}

func (r *Resource) Disconnect() {
	if r.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.client.Disconnect(ctx)
	}
}
