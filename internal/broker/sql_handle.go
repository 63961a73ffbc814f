package broker

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// sqlHandle wraps a pooled database/sql client for the relational engines.
type sqlHandle struct {
	db     *sql.DB
	dbType models.DatabaseType
}

func openSQLHandle(dialector gorm.Dialector, dbType models.DatabaseType, cfg *config.BrokerConfig) (Handle, error) {
	// Open must do no network I/O: the automatic ping is disabled (and the
	// MySQL dialector's version probe skipped) so the broker's
	// context-bounded validation ping is the only connect round trip.
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, err
	}

	db, err := gormDB.DB()
	if err != nil {
		return nil, err
	}

	// Registered tenant databases can be numerous; keep each pool small.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	return &sqlHandle{db: db, dbType: dbType}, nil
}

func (h *sqlHandle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (h *sqlHandle) Query(ctx context.Context, query string, params []interface{}) (*Rows, error) {
	rows, err := h.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (h *sqlHandle) Exec(ctx context.Context, query string, params []interface{}) (int64, error) {
	result, err := h.db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows; the statement still ran.
		return 0, nil
	}
	return affected, nil
}

// schemaQueries returns per-engine introspection SQL yielding
// (table_name, column_name, data_type) ordered by table and position.
var schemaQueries = map[models.DatabaseType]string{
	models.DBTypePostgreSQL: `SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`,
	models.DBTypeMySQL: `SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		ORDER BY table_name, ordinal_position`,
	models.DBTypeMSSQL: `SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		ORDER BY TABLE_NAME, ORDINAL_POSITION`,
	models.DBTypeSQLite: `SELECT m.name, p.name, p.type
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, p.cid`,
}

func (h *sqlHandle) Schema(ctx context.Context) ([]TableSchema, error) {
	query, ok := schemaQueries[h.dbType]
	if !ok {
		return nil, fmt.Errorf("no schema introspection for engine %s", h.dbType)
	}

	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []TableSchema
	byName := map[string]int{}
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return nil, err
		}
		idx, ok := byName[table]
		if !ok {
			tables = append(tables, TableSchema{Name: table})
			idx = len(tables) - 1
			byName[table] = idx
		}
		tables[idx].Columns = append(tables[idx].Columns, ColumnSchema{Name: column, Type: dataType})
	}
	return tables, rows.Err()
}

func (h *sqlHandle) Close() error {
	return h.db.Close()
}

// Per-engine dialector builders. Connection strings are built here and
// never included in returned errors. Each DSN carries the configured
// connect timeout so a dial to an unresponsive target aborts on its own
// even outside a context-bounded call.

func postgresDialector(d *models.ProjectDatabase, cfg *config.BrokerConfig) gorm.Dialector {
	sslMode := "disable"
	if d.SSL {
		sslMode = "require"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		d.Host, d.EffectivePort(), d.Username, d.Password, d.DatabaseName, sslMode,
		cfg.ConnectTimeoutSeconds)
	return postgres.Open(dsn)
}

func mysqlDialector(d *models.ProjectDatabase, cfg *config.BrokerConfig) gorm.Dialector {
	tlsParam := "false"
	if d.SSL {
		tlsParam = "true"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		d.Username, d.Password, d.Host, d.EffectivePort(), d.DatabaseName, tlsParam,
		cfg.ConnectTimeoutSeconds, cfg.QueryTimeoutSeconds, cfg.QueryTimeoutSeconds)
	return mysql.New(mysql.Config{
		DSN: dsn,
		// The version probe would query the target at open time.
		SkipInitializeWithVersion: true,
	})
}

func sqlserverDialector(d *models.ProjectDatabase, cfg *config.BrokerConfig) gorm.Dialector {
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.EffectivePort()),
	}
	query := url.Values{}
	query.Set("database", d.DatabaseName)
	query.Set("dial timeout", strconv.Itoa(cfg.ConnectTimeoutSeconds))
	if d.SSL {
		query.Set("encrypt", "true")
	}
	u.RawQuery = query.Encode()
	return sqlserver.Open(u.String())
}

func sqliteDialector(d *models.ProjectDatabase) gorm.Dialector {
	// For file-based engines the database name is the file path.
	return sqlite.Open(d.DatabaseName)
}
