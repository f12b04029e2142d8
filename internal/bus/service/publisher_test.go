package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	busdomain "github.com/nsiitk/killbill/internal/bus/domain"
	"github.com/nsiitk/killbill/internal/clock"
	"github.com/nsiitk/killbill/internal/config"
	"github.com/nsiitk/killbill/internal/migration"
)

func newPublisher(t *testing.T) (*Publisher, *gorm.DB, busdomain.Repository, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migration.RunMigrations(db))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	repo := busdomain.NewRepository()
	pub := NewPublisher(PublisherParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.SystemClock{},
		Cfg: &config.Config{
			Dispatcher: config.DispatcherConfig{PollInterval: time.Second, BatchSize: 100},
			Bus:        config.BusConfig{Topic: "subscription.events", OutputBuffer: 16},
		},
		Repo: repo,
	})
	t.Cleanup(func() { _ = pub.Close() })

	return pub, db, repo, node
}

func TestDrainDeliversAndMarksPublished(t *testing.T) {
	pub, db, repo, node := newPublisher(t)
	ctx := context.Background()

	messages, err := pub.Subscribe(ctx, "subscription.events")
	require.NoError(t, err)

	now := time.Now().UTC()
	msg := &busdomain.OutboxMessage{
		ID:        node.Generate(),
		Topic:     "subscription.events",
		Kind:      busdomain.SignalEffective,
		UserToken: "token-1",
		Payload:   datatypes.JSON(`{"kind":"EFFECTIVE"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Enqueue(ctx, db, msg))

	published, err := pub.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	select {
	case got := <-messages:
		assert.Equal(t, msg.ID.String(), got.UUID)
		assert.Equal(t, string(busdomain.SignalEffective), got.Metadata.Get("kind"))
		assert.Equal(t, "token-1", got.Metadata.Get("user_token"))
		assert.JSONEq(t, `{"kind":"EFFECTIVE"}`, string(got.Payload))
		got.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}

	pending, err := repo.Unpublished(ctx, db, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A second drain has nothing left.
	published, err = pub.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
}

func TestDrainKeepsOrder(t *testing.T) {
	pub, db, repo, node := newPublisher(t)
	ctx := context.Background()

	messages, err := pub.Subscribe(ctx, "subscription.events")
	require.NoError(t, err)

	now := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		msg := &busdomain.OutboxMessage{
			ID:        node.Generate(),
			Topic:     "subscription.events",
			Kind:      busdomain.SignalRequested,
			Payload:   datatypes.JSON(fmt.Sprintf(`{"seq":%d}`, i)),
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, repo.Enqueue(ctx, db, msg))
		ids = append(ids, msg.ID.String())
	}

	published, err := pub.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, published)

	for _, want := range ids {
		select {
		case got := <-messages:
			assert.Equal(t, want, got.UUID)
			got.Ack()
		case <-time.After(5 * time.Second):
			t.Fatal("missing message")
		}
	}
}

// stuckMarkRepo delivers messages but can never record that it did.
type stuckMarkRepo struct {
	busdomain.Repository
}

func (stuckMarkRepo) MarkPublished(context.Context, *gorm.DB, snowflake.ID, time.Time) error {
	return fmt.Errorf("mark published: disk full")
}

func TestDrainRequeuesWhenMarkFails(t *testing.T) {
	_, db, repo, node := newPublisher(t)
	ctx := context.Background()

	pub := NewPublisher(PublisherParam{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clock.SystemClock{},
		Cfg: &config.Config{
			Dispatcher: config.DispatcherConfig{PollInterval: time.Second, BatchSize: 100},
			Bus:        config.BusConfig{Topic: "subscription.events", OutputBuffer: 16},
		},
		Repo: stuckMarkRepo{repo},
	})
	t.Cleanup(func() { _ = pub.Close() })

	messages, err := pub.Subscribe(ctx, "subscription.events")
	require.NoError(t, err)

	now := time.Now().UTC()
	msg := &busdomain.OutboxMessage{
		ID:        node.Generate(),
		Topic:     "subscription.events",
		Kind:      busdomain.SignalEffective,
		Payload:   datatypes.JSON(`{"kind":"EFFECTIVE"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Enqueue(ctx, db, msg))

	requeuedBefore := testutil.ToFloat64(publishedTotal.WithLabelValues("requeued"))
	okBefore := testutil.ToFloat64(publishedTotal.WithLabelValues("ok"))

	published, err := pub.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	// The message went out anyway.
	select {
	case got := <-messages:
		assert.Equal(t, msg.ID.String(), got.UUID)
		got.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}

	// The row stays pending for the next drain, and the metric says so.
	pending, err := repo.Unpublished(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.ID, pending[0].ID)
	assert.Equal(t, requeuedBefore+1, testutil.ToFloat64(publishedTotal.WithLabelValues("requeued")))
	assert.Equal(t, okBefore, testutil.ToFloat64(publishedTotal.WithLabelValues("ok")))
}

func TestRunForeverStopsOnContextCancel(t *testing.T) {
	pub, _, _, _ := newPublisher(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.RunForever(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher loop kept running after cancel")
	}
}
