// Package mongo - альтернативный бэкенд хранилища (db.driver: mongo).
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pribylovaa/comments-moderation/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	commentsCollection = "comments"
	postsCollection    = "posts"
	countersCollection = "counters"
	defaultDBName      = "comments"

	closeTimeout = 5 * time.Second
)

// Mongo - адаптер MongoDB. Документы комментариев хранят числовой _id,
// выдаваемый счётчиком из коллекции counters.
type Mongo struct {
	client   *mongodriver.Client
	db       *mongodriver.Database
	comments *mongodriver.Collection
	posts    *mongodriver.Collection
	counters *mongodriver.Collection
}

var _ storage.Storage = (*Mongo)(nil)

// New подключается к MongoDB, проверяет соединение и создаёт индексы.
func New(ctx context.Context, uri string) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := cli.Database(databaseFromURI(uri))

	m := &Mongo{
		client:   cli,
		db:       db,
		comments: db.Collection(commentsCollection),
		posts:    db.Collection(postsCollection),
		counters: db.Collection(countersCollection),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		m.Close()
		return nil, err
	}

	return m, nil
}

// Ping проверяет доступность primary.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Close отключает клиента.
func (m *Mongo) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	_ = m.client.Disconnect(ctx)
}

// ensureIndexes создаёт индексы под чтение дерева и подсчёт повторов:
// - дерево поста: post_id + depth + created_at + _id;
// - поиск ответов: parent_id;
// - окна повторов: ip_address, guest_email_lower и content_hash вместе с created_at.
func (m *Mongo) ensureIndexes(ctx context.Context) error {
	models := []mongodriver.IndexModel{
		{
			Keys: bson.D{
				{Key: "post_id", Value: 1}, {Key: "depth", Value: 1},
				{Key: "created_at", Value: 1}, {Key: "_id", Value: 1},
			},
			Options: options.Index().SetName("post_tree"),
		},
		{
			Keys:    bson.D{{Key: "parent_id", Value: 1}},
			Options: options.Index().SetName("parent"),
		},
		{
			Keys:    bson.D{{Key: "ip_address", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("ip_recent"),
		},
		{
			Keys:    bson.D{{Key: "guest_email_lower", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("guest_email_recent").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "content_hash", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("content_hash_recent"),
		},
	}

	if _, err := m.comments.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("mongo ensure indexes: %w", err)
	}

	return nil
}

// databaseFromURI извлекает имя базы из пути URI, иначе имя по умолчанию.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err == nil {
		if name := strings.Trim(u.Path, "/"); name != "" {
			return name
		}
	}

	return defaultDBName
}
