// Package repository persists pending actions and the local catalogue
// records they act upon.  Every store comes in a MySQL flavour used in
// production and an in-memory flavour used by tests and single-process
// development setups.  The sentinel values below let the orchestrator and
// the HTTP handlers tell failure scenarios apart without depending on a
// particular backend.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrActionExists is returned when a pending action already exists for
// the same catalogue version.  Handlers translate it into HTTP 409.
var ErrActionExists = errors.New("pending action already exists for catalogue version")

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
