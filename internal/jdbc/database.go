package jdbc

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mixing-db/mixing/internal/mixing"
)

// Connect opens a database handle for the given driver ("pgx" or
// "sqlite3") and verifies connectivity.
//
// TODO: rewrite ? placeholders to $N before execution when the pgx driver
// is selected; the compiled statements currently assume ?-style drivers.
func Connect(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &mixing.TransportError{Op: "connect", Cause: err}
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &mixing.TransportError{Op: "connect", Cause: err}
	}
	return db, nil
}

// CreateSchema creates the tables for all SQL descriptors in the registry
// if they do not exist yet. Existing tables are left untouched.
func (o *OMA) CreateSchema(ctx context.Context) error {
	for _, ed := range o.registry.Descriptors() {
		if ed.Kind() != mixing.SQL {
			continue
		}
		table := ed.CreateTable()

		var columns []string
		for _, column := range table.Columns {
			columns = append(columns, columnDefinition(column))
		}
		columns = append(columns, "PRIMARY KEY ("+strings.Join(table.PrimaryKey, ", ")+")")
		for _, fk := range table.ForeignKeys {
			target, err := o.registry.Descriptor(fk.ReferencedType)
			if err != nil {
				return err
			}
			if target.Kind() != mixing.SQL {
				continue
			}
			columns = append(columns, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (id)",
				fk.Name, fk.Column, target.Relation()))
		}

		query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
			table.Name, strings.Join(columns, ", "))
		if _, err := o.db.ExecContext(ctx, query); err != nil {
			return translateError("create table "+table.Name, err)
		}
	}
	return nil
}

func columnDefinition(column mixing.TableColumn) string {
	definition := column.Name + " " + sqlType(column)
	if !column.Nullable {
		definition += " NOT NULL"
	}
	return definition
}

func sqlType(column mixing.TableColumn) string {
	switch column.Type {
	case mixing.TypeInt:
		return "BIGINT"
	case mixing.TypeFloat:
		return "DOUBLE PRECISION"
	case mixing.TypeBool:
		return "BOOLEAN"
	case mixing.TypeTimestamp:
		return "TIMESTAMP"
	default:
		if column.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", column.Length)
		}
		return "TEXT"
	}
}
