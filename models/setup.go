package models

import (
	"log/slog"
	"os"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Database struct {
	GormDB *gorm.DB
}

var DB *Database

// allModels lists every table in migration order: allocator and bookkeeping
// tables first, then the entities that depend on them.
var allModels = []any{
	&Id{},
	&AuditLog{},
	&LastSync{},
	&User{},
	&Account{},
	&Course{},
	&Group{},
	&Membership{},
	&Enrollment{},
	&Assignment{},
	&Project{},
}

func ConnectDatabase() {
	connect(postgres.Open(os.Getenv("DATABASE_URL")))
}

// ConnectSqlite is the single-node deployment variant of ConnectDatabase.
func ConnectSqlite(path string) {
	connect(sqlite.Open(path))
}

func connect(dialector gorm.Dialector) {
	gormLogger := slogGorm.New(
		slogGorm.WithHandler(slog.Default().Handler()),
		slogGorm.SetLogLevel(slogGorm.DefaultLogType, slog.LevelInfo),
	)

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		panic("Failed to connect to database!")
	}

	database, err := NewDatabase(gdb)
	if err != nil {
		panic(err)
	}
	DB = database
}

// NewDatabase migrates the schema and installs the audit trail callbacks.
// Every write path shares the returned handle, which is what guarantees that
// no call site can mutate a logged table without an audit entry.
func NewDatabase(gdb *gorm.DB) (*Database, error) {
	if err := gdb.AutoMigrate(allModels...); err != nil {
		return nil, err
	}
	if err := RegisterAuditCallbacks(gdb); err != nil {
		return nil, err
	}
	return &Database{GormDB: gdb}, nil
}
