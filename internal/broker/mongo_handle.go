package broker

import (
	"context"
	"fmt"
	"net/url"

	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// mongoHandle executes queries as MongoDB command documents. The query
// text is an extended-JSON command (e.g. {"find": "users", "limit": 10});
// bound parameters are not applicable and are ignored by the engine.
type mongoHandle struct {
	client *mongo.Client
	dbName string
}

func openMongoHandle(d *models.ProjectDatabase, cfg *config.BrokerConfig) (Handle, error) {
	u := &url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.EffectivePort()),
	}
	if d.Username != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	}
	if d.SSL {
		u.RawQuery = "tls=true"
	}

	opts := options.Client().
		ApplyURI(u.String()).
		SetMaxPoolSize(uint64(cfg.MaxOpenConns))

	client, err := mongo.Connect(context.Background(), opts)
	if err != nil {
		return nil, err
	}

	return &mongoHandle{client: client, dbName: d.DatabaseName}, nil
}

func (h *mongoHandle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx, readpref.Primary())
}

func (h *mongoHandle) runCommand(ctx context.Context, query string) (bson.M, error) {
	var command bson.D
	if err := bson.UnmarshalExtJSON([]byte(query), true, &command); err != nil {
		return nil, fmt.Errorf("query is not a valid command document: %w", err)
	}

	var result bson.M
	if err := h.client.Database(h.dbName).RunCommand(ctx, command).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *mongoHandle) Query(ctx context.Context, query string, params []interface{}) (*Rows, error) {
	result, err := h.runCommand(ctx, query)
	if err != nil {
		return nil, err
	}

	// find/aggregate replies carry documents under cursor.firstBatch;
	// other commands come back as a single result document.
	if cursor, ok := result["cursor"].(bson.M); ok {
		if batch, ok := cursor["firstBatch"].(bson.A); ok {
			rows := &Rows{Data: []map[string]interface{}{}}
			seen := map[string]bool{}
			for _, item := range batch {
				if doc, ok := item.(bson.M); ok {
					row := map[string]interface{}(doc)
					rows.Data = append(rows.Data, row)
					for k := range row {
						if !seen[k] {
							seen[k] = true
							rows.Columns = append(rows.Columns, k)
						}
					}
				}
			}
			return rows, nil
		}
	}

	rows := &Rows{Data: []map[string]interface{}{result}}
	for k := range result {
		rows.Columns = append(rows.Columns, k)
	}
	return rows, nil
}

func (h *mongoHandle) Exec(ctx context.Context, query string, params []interface{}) (int64, error) {
	result, err := h.runCommand(ctx, query)
	if err != nil {
		return 0, err
	}
	// Write commands report the touched document count as "n".
	switch n := result["n"].(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	}
	return 0, nil
}

func (h *mongoHandle) Schema(ctx context.Context) ([]TableSchema, error) {
	names, err := h.client.Database(h.dbName).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}

	tables := make([]TableSchema, 0, len(names))
	for _, name := range names {
		table := TableSchema{Name: name}

		// Sample one document to sketch the collection's fields.
		var doc bson.M
		err := h.client.Database(h.dbName).Collection(name).FindOne(ctx, bson.D{}).Decode(&doc)
		if err == nil {
			for field, value := range doc {
				table.Columns = append(table.Columns, ColumnSchema{
					Name: field,
					Type: fmt.Sprintf("%T", value),
				})
			}
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (h *mongoHandle) Close() error {
	return h.client.Disconnect(context.Background())
}
