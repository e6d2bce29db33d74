// Package testkit builds the shared fixtures of service tests: an in-memory
// sqlite database with the engine schema, id generation and casino settings.
package testkit

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/internal/migration"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OrgID is the organization most tests run under.
const OrgID int64 = 1001

var dbSeq atomic.Int64

// NewDB opens a private in-memory database. A single connection serializes
// writers the way row locks do on postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(db))
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Settings resolves casino settings for tests. The default is a 06:00 cutoff
// in UTC with a $10,000.00 crossed amount and a 0.9 approaching fraction.
func Settings(t *testing.T, mutate ...func(*config.CasinoSettings)) config.TenantSettingsProvider {
	t.Helper()
	settings := config.DefaultCasinoSettings()
	settings.Timezone = "UTC"
	for _, fn := range mutate {
		fn(&settings)
	}
	holder, err := config.NewStaticCasinoConfigHolder(config.CasinoConfig{Default: settings})
	require.NoError(t, err)
	return holder
}

// Clock starts at 2024-03-01 10:00 UTC, inside gaming day 2024-03-01.
func Clock() *clock.FakeClock {
	return clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
}

func OrgContext() context.Context {
	return orgcontext.WithOrgID(context.Background(), OrgID)
}

// OtherOrgContext scopes a call to an organization that owns nothing.
func OtherOrgContext() context.Context {
	return orgcontext.WithOrgID(context.Background(), OrgID+1)
}
