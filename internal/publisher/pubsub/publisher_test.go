package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func newFakeTopic(t *testing.T) (*pstest.Server, *pubsub.Client, *pubsub.Topic) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "catalog-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(context.Background(), "catalog-items")
	require.NoError(t, err)
	return srv, client, topic
}

func TestPublishCatalogItem(t *testing.T) {
	t.Parallel()

	srv, _, topic := newFakeTopic(t)
	pub := New(topic)
	defer func() { _ = pub.Close() }()

	item := crawler.CatalogItem{Name: "Navy Shirt", Category: "top", Hash: "abc123", ImageFilename: "navy-shirt-abc123.jpg"}
	id, err := pub.Publish(context.Background(), "catalog-items", item)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]string{
		"hash":     "abc123",
		"category": "top",
		"filename": "navy-shirt-abc123.jpg",
	}, msgs[0].Attributes)

	var decoded crawler.CatalogItem
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	assert.Equal(t, "Navy Shirt", decoded.Name)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", "payload")
	require.Error(t, err)
}

func TestPublishUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, _, topic := newFakeTopic(t)
	pub := New(topic)
	defer func() { _ = pub.Close() }()
	_, err := pub.Publish(context.Background(), "t", make(chan int))
	require.Error(t, err)
}

func TestOpenRequiresNames(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}

func TestAttributesIgnoreOtherPayloads(t *testing.T) {
	t.Parallel()

	assert.Nil(t, attributes("plain"))
	assert.Nil(t, attributes((*crawler.CatalogItem)(nil)))
	assert.Equal(t, "h", attributes(&crawler.CatalogItem{Hash: "h"})["hash"])
}
