package data

import (
	"fmt"
	"net"
	"strings"
	"time"

	"SurgeGate/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// poolerPorts are client ports of known transaction-pooling proxies. A DSN
// pointing at one of them means connections are already multiplexed upstream
// and local pooling must be disabled to avoid double pooling.
var poolerPorts = map[string]bool{
	"6033": true, // ProxySQL
	"6432": true, // PgBouncer-compatible proxies fronting MySQL protocol shims
}

// NewMySQLClient creates the GORM MySQL client with the governed connection
// pool configured from conf.Data.
func NewMySQLClient(c *conf.Data, l log.Logger) (*gorm.DB, func(), error) {
	helper := log.NewHelper(l)

	if c.Database == nil {
		helper.Error("database configuration is missing")
		return nil, nil, fmt.Errorf("database configuration is required")
	}

	gormLogger := logger.New(
		&gormLogAdapter{helper: helper},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(mysql.Open(c.Database.Source), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		helper.Errorf("failed to connect to MySQL: %v", err)
		return nil, nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		helper.Errorf("failed to get sql.DB: %v", err)
		return nil, nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pool := c.Database.Pool
	if ExternalPoolerDetected(c.Database) {
		// A proxy already pools server connections; keep this side a thin
		// passthrough with no cap of its own and almost no idle reuse.
		sqlDB.SetMaxOpenConns(0)
		sqlDB.SetMaxIdleConns(2)
		helper.Infow("external connection pooler detected, local pooling disabled")
	} else {
		sqlDB.SetMaxOpenConns(int(pool.Size))
		maxIdle := int(pool.MaxIdle)
		if maxIdle > int(pool.Size) {
			maxIdle = int(pool.Size)
		}
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(pool.Recycle.AsDuration())
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		helper.Errorf("failed to ping MySQL: %v", err)
		return nil, nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	helper.Info("MySQL connection established successfully")

	cleanup := func() {
		helper.Info("closing MySQL connection")
		if err := sqlDB.Close(); err != nil {
			helper.Errorf("failed to close MySQL: %v", err)
		}
	}

	return db, cleanup, nil
}

// ExternalPoolerDetected reports whether the database sits behind a
// transaction-pooling proxy, either declared in config or inferred from the
// DSN port.
func ExternalPoolerDetected(c *conf.Data_Database) bool {
	if c.Pool != nil && c.Pool.ExternalPooler {
		return true
	}
	return dsnHasPoolerPort(c.Source)
}

// dsnHasPoolerPort extracts the address from a go-sql-driver DSN of the form
// user:pass@tcp(host:port)/dbname and checks the port against known pooler
// client ports.
func dsnHasPoolerPort(dsn string) bool {
	open := strings.Index(dsn, "tcp(")
	if open < 0 {
		return false
	}
	rest := dsn[open+len("tcp("):]
	closing := strings.Index(rest, ")")
	if closing < 0 {
		return false
	}
	_, port, err := net.SplitHostPort(rest[:closing])
	if err != nil {
		return false
	}
	return poolerPorts[port]
}

// gormLogAdapter adapts Kratos log.Helper to GORM logger interface.
type gormLogAdapter struct {
	helper *log.Helper
}

// Printf implements gorm/logger.Writer interface.
func (g *gormLogAdapter) Printf(format string, v ...interface{}) {
	g.helper.Infof(format, v...)
}
