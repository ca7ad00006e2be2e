package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"
)

// Dialect captures what differs between the supported databases.
type Dialect struct {
	// Name is the dialect name used in configuration ("sqlite", "postgres").
	Name string

	// Driver is the database/sql driver name.
	Driver string

	schema     string
	numbered   bool
	isolation  sql.IsolationLevel
	txReadOnly bool
}

var (
	// SQLite stores rows with the pure Go modernc.org/sqlite driver. Write
	// serialization comes from BEGIN IMMEDIATE (see SQLiteDSN).
	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS catalog_rows (
	entity  TEXT NOT NULL,
	row_key TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (entity, row_key)
) WITHOUT ROWID`,
	}

	// Postgres stores rows through pgx at SERIALIZABLE isolation. row_key
	// uses the C collation so that ORDER BY and range scans follow byte
	// order.
	Postgres = Dialect{
		Name:   "postgres",
		Driver: "pgx",
		schema: `CREATE TABLE IF NOT EXISTS catalog_rows (
	entity  TEXT NOT NULL,
	row_key TEXT COLLATE "C" NOT NULL,
	payload BYTEA NOT NULL,
	PRIMARY KEY (entity, row_key)
)`,
		numbered:   true,
		isolation:  sql.LevelSerializable,
		txReadOnly: true,
	}
)

// DialectFor returns the dialect with the given name.
func DialectFor(name string) (Dialect, bool) {
	switch name {
	case SQLite.Name:
		return SQLite, true
	case Postgres.Name, "postgresql", "pgx":
		return Postgres, true
	}
	return Dialect{}, false
}

// SQLiteDSN returns a modernc DSN for the database file at path. Every
// transaction starts with BEGIN IMMEDIATE, so writers queue on the busy
// timeout instead of failing on lock upgrades.
func SQLiteDSN(path string, busyTimeoutMillis int) string {
	return "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(" + strconv.Itoa(busyTimeoutMillis) + ")" +
		"&_pragma=journal_mode(WAL)"
}

func (d Dialect) txOptions(readOnly bool) *sql.TxOptions {
	if d.isolation == sql.LevelDefault && !d.txReadOnly {
		return nil
	}
	return &sql.TxOptions{Isolation: d.isolation, ReadOnly: readOnly && d.txReadOnly}
}

// rebind rewrites '?' placeholders for dialects with numbered parameters.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
