package database

import (
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	applog "github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/models"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// InitGormDB initializes and returns a GORM database instance. writer
// receives GORM's SQL log; slow queries are reported at warn level.
func InitGormDB(driver, dataSourceName string, writer logger.Writer) (*gorm.DB, error) {
	gormLogger := logger.New(
		writer,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector, err := openDialector(driver, dataSourceName)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	if driver == DriverSQLite || driver == "" {
		configureSQLite(sqlDB)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	applog.Infof("database: GORM database (%s) initialized", driver)
	return db, nil
}

func openDialector(driver, dataSourceName string) (gorm.Dialector, error) {
	switch driver {
	case DriverSQLite, "":
		return sqlite.Open(sqliteDSN(dataSourceName)), nil
	case DriverMySQL:
		cfg, err := mysqldrv.ParseDSN(dataSourceName)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql DSN: %w", err)
		}
		cfg.ParseTime = true
		applog.Infof("database: using mysql at %s/%s", cfg.Addr, cfg.DBName)
		return mysql.Open(cfg.FormatDSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver '%s'", driver)
	}
}

// AutoMigrateModels creates or updates the schema.
func AutoMigrateModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Identity{}); err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	applog.Infof("database: GORM AutoMigrate completed")
	return nil
}

// sqliteDSN adds a busy timeout so every pooled connection waits for the
// writer lock instead of failing with SQLITE_BUSY.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000"
}
