package storage

import (
	"strings"

	"shuq/internal/logger"
	"shuq/internal/model"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open 连接数据库并自动建表（products / offer_attempts）。
func Open(driver, dsn string, log *zap.Logger) (*gorm.DB, error) {
	return OpenWithLevel(driver, dsn, log, gormlogger.Warn)
}

// OpenWithLevel 同 Open，可指定 SQL 日志级别。
func OpenWithLevel(driver, dsn string, log *zap.Logger, level gormlogger.LogLevel) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, errors.Newf("unsupported db driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLogger(log, level),
		// 唯一键冲突统一翻译为 gorm.ErrDuplicatedKey
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}

	if isMemorySQLite(driver, dsn) {
		// 内存库每个连接是独立的库，必须限制为单连接。
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "get sql.DB")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&model.Product{}, &model.OfferAttempt{}); err != nil {
		return nil, errors.Wrap(err, "auto migrate")
	}
	return db, nil
}

// Close 关闭底层连接池。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemorySQLite(driver, dsn string) bool {
	if !strings.EqualFold(driver, DriverSQLite) && driver != "" {
		return false
	}
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
