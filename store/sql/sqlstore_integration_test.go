package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-connectors/core"
	connectormigrations "github.com/goliatone/go-connectors/migrations"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-connectors-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"connector_process_definitions", "connector_webhook_deliveries"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master: %v", err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestDefinitionStore_DeployAssignsVersionsAndKeys(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.DefinitionStore()

	first, err := store.Deploy(ctx, core.DeployDefinitionInput{ProcessID: "orders", Model: []byte("<v1/>")})
	if err != nil {
		t.Fatalf("deploy orders v1: %v", err)
	}
	billing, err := store.Deploy(ctx, core.DeployDefinitionInput{ProcessID: "billing", Model: []byte("<b1/>")})
	if err != nil {
		t.Fatalf("deploy billing v1: %v", err)
	}
	second, err := store.Deploy(ctx, core.DeployDefinitionInput{ProcessID: "orders", Model: []byte("<v2/>")})
	if err != nil {
		t.Fatalf("deploy orders v2: %v", err)
	}

	if first.Version != 1 || second.Version != 2 || billing.Version != 1 {
		t.Fatalf("unexpected versions: %v %v %v", first, second, billing)
	}
	if first.DefinitionKey != 1 || billing.DefinitionKey != 2 || second.DefinitionKey != 3 {
		t.Fatalf("expected globally increasing definition keys, got %v %v %v", first, billing, second)
	}

	model, err := store.ProcessModel(ctx, second)
	if err != nil {
		t.Fatalf("process model: %v", err)
	}
	if string(model) != "<v2/>" {
		t.Fatalf("unexpected model %q", model)
	}

	if _, err := store.Deploy(ctx, core.DeployDefinitionInput{ProcessID: "orders"}); err == nil {
		t.Fatalf("expected empty model to be rejected")
	}
}

func TestDefinitionStore_UndeployHidesDefinitionFromPoll(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := NewDefinitionStore(client.DB())
	if err != nil {
		t.Fatalf("new definition store: %v", err)
	}
	v1, _ := store.Deploy(ctx, core.DeployDefinitionInput{ProcessID: "orders", Model: []byte("<v1/>")})
	v2, _ := store.Deploy(ctx, core.DeployDefinitionInput{ProcessID: "orders", Model: []byte("<v2/>")})

	if err := store.Undeploy(ctx, v2); err != nil {
		t.Fatalf("undeploy: %v", err)
	}
	if err := store.Undeploy(ctx, v2); err == nil {
		t.Fatalf("expected second undeploy to report a missing definition")
	}

	refs, err := store.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(refs) != 1 || refs[0] != v1 {
		t.Fatalf("expected only v1 to remain deployed, got %v", refs)
	}

	all, err := store.List(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[1].Active() || !all[0].Active() {
		t.Fatalf("expected undeployed definition to be listed as inactive, got %+v", all)
	}

	if _, err := store.ProcessModel(ctx, v2); err != nil {
		t.Fatalf("expected model of undeployed definition to stay readable: %v", err)
	}
	if _, err := store.ProcessModel(ctx, core.ProcessDefinitionRef{ProcessID: "orders", Version: 9, DefinitionKey: 99}); err == nil {
		t.Fatalf("expected unknown definition error")
	}
}

func TestDefinitionStore_PollReturnsEveryDeployedDefinition(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := NewDefinitionStore(client.DB())
	if err != nil {
		t.Fatalf("new definition store: %v", err)
	}
	const deployed = 40
	for i := 0; i < deployed; i++ {
		processID := fmt.Sprintf("process-%02d", i)
		if _, err := store.Deploy(ctx, core.DeployDefinitionInput{ProcessID: processID, Model: []byte("<m/>")}); err != nil {
			t.Fatalf("deploy %s: %v", processID, err)
		}
	}

	refs, err := store.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(refs) != deployed {
		t.Fatalf("expected poll to return all %d definitions, got %d", deployed, len(refs))
	}
	all, err := store.List(ctx, true)
	if err != nil || len(all) != deployed {
		t.Fatalf("expected list to return all %d definitions, got %d %v", deployed, len(all), err)
	}
}

func TestWebhookDeliveryStore_ClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := NewWebhookDeliveryStore(client.DB())
	if err != nil {
		t.Fatalf("new webhook delivery store: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }
	store.Retention = time.Hour

	claimID, accepted, err := store.Claim(ctx, "orders:evt-1", time.Minute)
	if err != nil || !accepted || claimID == "" {
		t.Fatalf("expected first claim to be accepted, got %q %v %v", claimID, accepted, err)
	}
	if _, accepted, err := store.Claim(ctx, "orders:evt-1", time.Minute); err != nil || accepted {
		t.Fatalf("expected in-flight duplicate to be rejected, got %v %v", accepted, err)
	}

	if err := store.Fail(ctx, claimID, errors.New("engine down")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	retryID, accepted, err := store.Claim(ctx, "orders:evt-1", time.Minute)
	if err != nil || !accepted || retryID == claimID {
		t.Fatalf("expected failed delivery to be claimable again, got %q %v %v", retryID, accepted, err)
	}
	if attempts, err := store.Attempts(ctx, "orders:evt-1"); err != nil || attempts != 2 {
		t.Fatalf("expected two attempts, got %d %v", attempts, err)
	}
	if err := store.Complete(ctx, claimID); err == nil {
		t.Fatalf("expected stale claim id to be rejected")
	}

	if err := store.Complete(ctx, retryID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, accepted, _ := store.Claim(ctx, "orders:evt-1", time.Minute); accepted {
		t.Fatalf("expected completed delivery to be deduplicated")
	}

	now = now.Add(2 * time.Hour)
	if purged, err := store.Purge(ctx); err != nil || purged != 1 {
		t.Fatalf("expected one purged delivery, got %d %v", purged, err)
	}
	if _, accepted, err := store.Claim(ctx, "orders:evt-1", time.Minute); err != nil || !accepted {
		t.Fatalf("expected purged delivery to be accepted again, got %v %v", accepted, err)
	}
}

func TestWebhookDeliveryStore_ExpiredLeaseCanBeTakenOver(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, _ := NewWebhookDeliveryStore(client.DB())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	first, accepted, err := store.Claim(ctx, "orders:evt-2", time.Second)
	if err != nil || !accepted {
		t.Fatalf("claim: %v %v", accepted, err)
	}
	now = now.Add(2 * time.Second)
	second, accepted, err := store.Claim(ctx, "orders:evt-2", time.Second)
	if err != nil || !accepted || second == first {
		t.Fatalf("expected expired lease to be taken over, got %q %v %v", second, accepted, err)
	}
	if err := store.Complete(ctx, first); err == nil {
		t.Fatalf("expected the expired claim to no longer complete")
	}
}

func TestResolveBunDBRejectsUnknownClients(t *testing.T) {
	if _, err := resolveBunDB(nil); err == nil {
		t.Fatalf("expected nil client error")
	}
	if _, err := resolveBunDB("not a client"); err == nil {
		t.Fatalf("expected unsupported client error")
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:connectors-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = connectormigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != connectormigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, connectormigrations.WithDialects(connectormigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
