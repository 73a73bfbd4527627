package database

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/glebarez/sqlite"
	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/xelth-com/reportsync/internal/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	embeddedDataPath = "./db_data"
	embeddedPort     = 5433
)

// DB wraps gorm.DB together with the dialect guards for the connected store
// and a reference to an embedded process if active
type DB struct {
	*gorm.DB
	Dialect  Dialect
	embedded *embeddedpostgres.EmbeddedPostgres
	log      *zap.Logger
}

// cleanupStaleEmbeddedPostgres cleans up leftover processes from a previous crash
func cleanupStaleEmbeddedPostgres(log *zap.Logger) {
	pidFile := filepath.Join(embeddedDataPath, "postmaster.pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		// No pid file = clean state
		return
	}

	// PID is the first line of postmaster.pid
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		log.Warn("could not parse PID from postmaster.pid", zap.Error(err))
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		log.Info("removing stale postmaster.pid", zap.Int("pid", pid))
		os.Remove(pidFile)
		return
	}

	// On Unix, FindProcess always succeeds, so probe with signal 0
	if err := process.Signal(syscall.Signal(0)); err != nil {
		log.Info("removing stale postmaster.pid, process not running", zap.Int("pid", pid))
		os.Remove(pidFile)
		return
	}

	log.Warn("found orphaned PostgreSQL process, stopping it", zap.Int("pid", pid))
	if err := process.Signal(syscall.SIGTERM); err != nil {
		log.Warn("could not send SIGTERM", zap.Int("pid", pid), zap.Error(err))
	}

	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			log.Info("orphaned PostgreSQL process stopped", zap.Int("pid", pid))
			os.Remove(pidFile)
			return
		}
	}

	log.Warn("process did not stop gracefully, sending SIGKILL", zap.Int("pid", pid))
	process.Kill()
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidFile)
}

// isPortInUse checks if a port is already in use
func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Connect opens the ledger store selected by cfg.Driver
func Connect(cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "database"), zap.String("driver", cfg.Driver))

	gcfg := &gorm.Config{
		Logger: newGormLogger(log, cfg.LogSQL),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db       *gorm.DB
		embedded *embeddedpostgres.EmbeddedPostgres
		err      error
	)

	switch cfg.Driver {
	case "postgres", "":
		db, embedded, err = openPostgres(cfg, gcfg, log)
	case "sqlserver":
		db, err = openSQLServer(cfg, gcfg, log)
	case "sqlite":
		db, err = openSQLite(cfg, gcfg, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err == nil {
		if cfg.Driver == "sqlite" {
			// SQLite has a single writer; more than one connection would
			// also split an in-memory database.
			sqlDB.SetMaxOpenConns(1)
		} else {
			sqlDB.SetMaxIdleConns(10)
			sqlDB.SetMaxOpenConns(100)
			sqlDB.SetConnMaxLifetime(time.Hour)
		}
	}

	log.Info("database connection established")

	return &DB{
		DB:       db,
		Dialect:  DialectFor(db),
		embedded: embedded,
		log:      log,
	}, nil
}

func openPostgres(cfg config.DatabaseConfig, gcfg *gorm.Config, log *zap.Logger) (*gorm.DB, *embeddedpostgres.EmbeddedPostgres, error) {
	var embedded *embeddedpostgres.EmbeddedPostgres

	// Embedded mode: localhost and no password
	isEmbedded := cfg.Host == "localhost" && cfg.Password == ""

	password := cfg.Password
	if isEmbedded {
		log.Info("mode: embedded PostgreSQL, initializing internal database")

		cleanupStaleEmbeddedPostgres(log)

		if isPortInUse(embeddedPort) {
			log.Warn("embedded port still in use, waiting for release", zap.Int("port", embeddedPort))
			for i := 0; i < 6; i++ {
				time.Sleep(500 * time.Millisecond)
				if !isPortInUse(embeddedPort) {
					break
				}
			}
			if isPortInUse(embeddedPort) {
				return nil, nil, fmt.Errorf("port %d is still in use by another process", embeddedPort)
			}
		}

		embeddedCfg := embeddedpostgres.DefaultConfig().
			DataPath(embeddedDataPath).
			Port(uint32(embeddedPort)).
			Database(cfg.Database).
			Username(cfg.Username).
			Password("postgres")

		embedded = embeddedpostgres.NewDatabase(embeddedCfg)
		if err := embedded.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start embedded database: %w", err)
		}

		cfg.Port = strconv.Itoa(embeddedPort)
		password = "postgres"
		log.Info("embedded PostgreSQL started", zap.Int("port", embeddedPort))
	} else {
		log.Info("mode: external PostgreSQL", zap.String("host", cfg.Host), zap.String("port", cfg.Port))
	}

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		password,
		cfg.Database,
	)

	db, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, embedded, nil
}

func openSQLServer(cfg config.DatabaseConfig, gcfg *gorm.Config, log *zap.Logger) (*gorm.DB, error) {
	parsed, err := msdsn.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid sqlserver DSN: %w", err)
	}
	log.Info("mode: SQL Server", zap.String("host", parsed.Host), zap.String("database", parsed.Database))

	db, err := gorm.Open(sqlserver.Open(cfg.URL), gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func openSQLite(cfg config.DatabaseConfig, gcfg *gorm.Config, log *zap.Logger) (*gorm.DB, error) {
	log.Info("mode: SQLite", zap.String("dsn", cfg.URL))

	db, err := gorm.Open(sqlite.Open(cfg.URL), gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return db, nil
}

// newGormLogger routes gorm's own logging through zap
func newGormLogger(log *zap.Logger, logSQL bool) logger.Interface {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	return logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// Close ensures the database connection and embedded process are shut down
func (db *DB) Close() error {
	if db.embedded != nil {
		db.log.Info("stopping embedded PostgreSQL")
		_ = db.embedded.Stop()
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate triggers GORM schema synchronization
func (db *DB) AutoMigrate(models ...interface{}) error {
	return db.DB.AutoMigrate(models...)
}
