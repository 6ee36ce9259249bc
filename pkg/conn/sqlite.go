package conn

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLitePath = "nodeflow.db"

// OpenSQLite opens a file or in-memory SQLite database.
func OpenSQLite(path string, config *gorm.Config) (*Client, error) {
	if path == "" {
		path = defaultSQLitePath
	}
	if config == nil {
		config = &gorm.Config{}
	}
	db, err := gorm.Open(sqlite.Open(path), config)
	if err != nil {
		return nil, err
	}
	return &Client{opt: Option{ConnString: path, Config: config}, db: db}, nil
}
