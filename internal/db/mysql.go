package db

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// NewMySQLConnection opens the service database holding business state and
// the outbox, inbox, broker health and sync-up tables. The DSN needs
// parseTime=true.
func NewMySQLConnection(dsn string, p PoolOpts) (*sqlx.DB, error) {
	return open("mysql", dsn, p)
}

// IsDuplicateKey reports whether err is a MySQL unique-key violation (1062).
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
