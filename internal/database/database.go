package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/squares/internal/achievements"
	"github.com/MarcoPoloResearchLab/squares/internal/challenges"
	"github.com/MarcoPoloResearchLab/squares/internal/notifications"
	"github.com/MarcoPoloResearchLab/squares/internal/presence"
	"github.com/MarcoPoloResearchLab/squares/internal/social"
	"github.com/MarcoPoloResearchLab/squares/internal/teams"
	"github.com/MarcoPoloResearchLab/squares/internal/users"
	"github.com/MarcoPoloResearchLab/squares/internal/xp"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database backend.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured database and brings the schema up to date.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dialector gorm.Dialector
	target := ""
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		dialector = sqlite.Open(cfg.Path)
		target = cfg.Path
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		dialector = postgres.Open(cfg.DSN)
		target = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if db.Dialector.Name() == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", db.Dialector.Name()), zap.String("target", target))
	return db, nil
}

// Migrate creates every table the engine owns and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&presence.Entry{},
		&xp.Account{},
		&achievements.Unlock{},
		&teams.Team{},
		&teams.Member{},
		&challenges.Challenge{},
		&notifications.Event{},
		&users.Identity{},
		&social.Friendship{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
