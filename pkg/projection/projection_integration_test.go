package projection_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/authapp/zitadel-sub007/pkg/database"
	"github.com/authapp/zitadel-sub007/pkg/eventstore"
	"github.com/authapp/zitadel-sub007/pkg/eventstore/postgres"
	"github.com/authapp/zitadel-sub007/pkg/projection"
)

func setupEngine(t *testing.T) (*database.DB, *eventstore.Eventstore) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("eventstore"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Connect(ctx, database.Config{DSN: dsn, MaxConns: 10})
	require.NoError(t, err)
	require.NoError(t, postgres.Bootstrap(ctx, db))

	es, err := eventstore.New(postgres.New(db))
	require.NoError(t, err)
	t.Cleanup(func() { _ = es.Close() })
	return db, es
}

// userCounter materializes a per-instance count of user events.
type userCounter struct{}

func (userCounter) Name() string             { return "user_counts" }
func (userCounter) Tables() []string         { return []string{"user_counts"} }
func (userCounter) AggregateTypes() []string { return []string{"user"} }
func (userCounter) EventTypes() []string     { return nil }

func (userCounter) Init(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS user_counts (
		instance_id TEXT PRIMARY KEY,
		total BIGINT NOT NULL DEFAULT 0
	)`)
	return err
}

func (userCounter) Reduce(ctx context.Context, tx pgx.Tx, event eventstore.Event) error {
	_, err := tx.Exec(ctx, `INSERT INTO user_counts (instance_id, total) VALUES ($1, 1)
		ON CONFLICT (instance_id) DO UPDATE SET total = user_counts.total + 1`, event.InstanceID)
	return err
}

func (userCounter) Reset(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `DELETE FROM user_counts`)
	return err
}

// failingHandler rejects every event to exercise failure reporting.
type failingHandler struct{}

func (failingHandler) Name() string                       { return "failing" }
func (failingHandler) Tables() []string                   { return nil }
func (failingHandler) AggregateTypes() []string           { return []string{"user"} }
func (failingHandler) EventTypes() []string               { return nil }
func (failingHandler) Init(context.Context, pgx.Tx) error { return nil }
func (failingHandler) Reduce(context.Context, pgx.Tx, eventstore.Event) error {
	return errors.New("broken reducer")
}
func (failingHandler) Reset(context.Context, pgx.Tx) error { return nil }

func userCommand(id, eventType string) eventstore.Command {
	return eventstore.Command{
		InstanceID:    "inst-1",
		AggregateType: "user",
		AggregateID:   id,
		EventType:     eventType,
		Payload:       []byte(`{}`),
		Creator:       "tester",
		Owner:         "org-1",
	}
}

func countFor(t *testing.T, db *database.DB, instanceID string) int64 {
	t.Helper()
	var total int64
	err := db.QueryRow(context.Background(),
		`SELECT COALESCE(SUM(total), 0) FROM user_counts WHERE instance_id = $1`, instanceID).Scan(&total)
	require.NoError(t, err)
	return total
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestProjectionCatchUpAndLiveTail(t *testing.T) {
	db, es := setupEngine(t)
	ctx := context.Background()

	// Events committed before the projection starts are caught up.
	_, err := es.PushMany(ctx, userCommand("user-1", "user.added"), userCommand("user-2", "user.added"))
	require.NoError(t, err)

	cfg := projection.DefaultConfig()
	cfg.Interval = 50 * time.Millisecond
	registry := projection.NewRegistry(es, db, projection.WithConfig(cfg))
	require.NoError(t, registry.Register(userCounter{}))
	require.NoError(t, registry.Start(ctx))
	t.Cleanup(func() { _ = registry.Stop(context.Background()) })

	waitFor(t, func() bool { return countFor(t, db, "inst-1") == 2 })

	// Events committed while running arrive via the live subscription.
	_, err = es.Push(ctx, userCommand("user-1", "user.changed"))
	require.NoError(t, err)
	waitFor(t, func() bool { return countFor(t, db, "inst-1") == 3 })

	// Non-matching aggregate types never reach the handler.
	org := userCommand("org-1", "org.added")
	org.AggregateType = "org"
	_, err = es.Push(ctx, org)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(3), countFor(t, db, "inst-1"))

	statuses, err := registry.Health(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "user_counts", statuses[0].Name)
	assert.Equal(t, []string{"user_counts"}, statuses[0].Tables)
	assert.True(t, statuses[0].Running)
	assert.Empty(t, statuses[0].LastError)
	assert.False(t, statuses[0].Position.IsZero())
}

func TestProjectionRestartDoesNotReapply(t *testing.T) {
	db, es := setupEngine(t)
	ctx := context.Background()

	_, err := es.PushMany(ctx, userCommand("user-1", "user.added"), userCommand("user-2", "user.added"))
	require.NoError(t, err)

	cfg := projection.DefaultConfig()
	cfg.Interval = 50 * time.Millisecond

	first := projection.NewRegistry(es, db, projection.WithConfig(cfg))
	require.NoError(t, first.Register(userCounter{}))
	require.NoError(t, first.Start(ctx))
	waitFor(t, func() bool { return countFor(t, db, "inst-1") == 2 })
	require.NoError(t, first.Stop(ctx))

	// A fresh registry resumes from the checkpoint instead of replaying.
	second := projection.NewRegistry(es, db, projection.WithConfig(cfg))
	require.NoError(t, second.Register(userCounter{}))
	require.NoError(t, second.Start(ctx))
	t.Cleanup(func() { _ = second.Stop(context.Background()) })

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int64(2), countFor(t, db, "inst-1"), "restart must not double-apply")

	_, err = es.Push(ctx, userCommand("user-3", "user.added"))
	require.NoError(t, err)
	waitFor(t, func() bool { return countFor(t, db, "inst-1") == 3 })
}

func TestProjectionRebuild(t *testing.T) {
	db, es := setupEngine(t)
	ctx := context.Background()

	_, err := es.PushMany(ctx,
		userCommand("user-1", "user.added"),
		userCommand("user-2", "user.added"),
		userCommand("user-1", "user.changed"),
	)
	require.NoError(t, err)

	cfg := projection.DefaultConfig()
	cfg.Interval = 50 * time.Millisecond
	registry := projection.NewRegistry(es, db, projection.WithConfig(cfg))
	require.NoError(t, registry.Register(userCounter{}))
	require.NoError(t, registry.Start(ctx))
	t.Cleanup(func() { _ = registry.Stop(context.Background()) })

	waitFor(t, func() bool { return countFor(t, db, "inst-1") == 3 })

	require.NoError(t, registry.Rebuild(ctx, "user_counts"))
	waitFor(t, func() bool { return countFor(t, db, "inst-1") == 3 })

	statuses, err := registry.Health(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].Position.IsZero(), "rebuild replays to the head again")
}

func TestProjectionFailureIsReported(t *testing.T) {
	db, es := setupEngine(t)
	ctx := context.Background()

	_, err := es.Push(ctx, userCommand("user-1", "user.added"))
	require.NoError(t, err)

	cfg := projection.DefaultConfig()
	cfg.Interval = 50 * time.Millisecond
	registry := projection.NewRegistry(es, db, projection.WithConfig(cfg))
	require.NoError(t, registry.Register(failingHandler{}))
	require.NoError(t, registry.Start(ctx))
	t.Cleanup(func() { _ = registry.Stop(context.Background()) })

	waitFor(t, func() bool {
		statuses, err := registry.Health(ctx)
		require.NoError(t, err)
		return len(statuses) == 1 && statuses[0].LastError != ""
	})

	statuses, err := registry.Health(ctx)
	require.NoError(t, err)
	assert.Contains(t, statuses[0].LastError, "broken reducer")
	assert.True(t, statuses[0].Position.IsZero(), "a failing batch must not advance the checkpoint")
}

func TestProjectionTrigger(t *testing.T) {
	db, es := setupEngine(t)
	ctx := context.Background()

	// A long interval so only the trigger (or the live bus) can explain
	// timely processing.
	registry := projection.NewRegistry(es, db)
	require.NoError(t, registry.Register(userCounter{}, projection.WithInterval(time.Hour)))
	require.NoError(t, registry.Start(ctx))
	t.Cleanup(func() { _ = registry.Stop(context.Background()) })

	// Seed after start, bypassing the engine bus, so neither ticker nor
	// subscription wakes the worker for it.
	store := postgres.New(db)
	_, err := store.Push(ctx, nil, userCommand("user-1", "user.added"))
	require.NoError(t, err)

	require.NoError(t, registry.Trigger("user_counts"))
	waitFor(t, func() bool { return countFor(t, db, "inst-1") == 1 })
}
