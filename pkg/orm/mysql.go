package orm

import (
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

type Config struct {
	DSN         string `mapstructure:"dsn"`
	MaxIdle     int    `mapstructure:"max_idle"`
	MaxOpen     int    `mapstructure:"max_open"`
	MaxLifetime int    `mapstructure:"max_lifetime"` // seconds
	LogLevel    string `mapstructure:"log_level"`    // silent | error | warn | info
}

// NewMySQL opens a pooled GORM handle. The DSN always gets parseTime so
// DATETIME columns scan into time.Time.
func NewMySQL(c *Config) (*gorm.DB, error) {
	dsn, err := normalizeDSN(c.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: glog.Default.LogMode(logLevel(c.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", Redacted(c.DSN), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if c.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdle)
	}
	if c.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpen)
	}
	if c.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	}
	return db, nil
}

func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Redacted is dsn without its password, safe for logs.
func Redacted(dsn string) string {
	cfg, err := mysqldrv.ParseDSN(dsn)
	if err != nil {
		return "<invalid dsn>"
	}
	cfg.Passwd = ""
	return cfg.FormatDSN()
}

func logLevel(s string) glog.LogLevel {
	switch strings.ToLower(s) {
	case "info":
		return glog.Info
	case "error":
		return glog.Error
	case "silent":
		return glog.Silent
	default:
		return glog.Warn
	}
}
