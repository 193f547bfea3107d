// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlprune

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/canonical/sqlprune/internal/typeinfo"
)

var ErrNoRows = sql.ErrNoRows
var ErrTXDone = sql.ErrTxDone

// stmtCache stores the driver prepared statements associated to the
// Template objects.
var stmtCache = newStatementCache()

func defaultLogger() logrus.FieldLogger {
	return logrus.StandardLogger()
}

type DB struct {
	// cacheID is used to look up the cached driver prepared statements prepared
	// on this database.
	cacheID uint64
	// sqldb is the underlying database/sql DB object.
	sqldb *sql.DB
	log   logrus.FieldLogger
}

// NewDB creates a new [DB] from a [sql.DB].
func NewDB(sqldb *sql.DB) *DB {
	if sqldb == nil {
		return nil
	}
	return stmtCache.newDB(sqldb)
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb
}

// SetLogger sets the logger that queries are logged to at debug level. A nil
// logger restores the logrus standard logger.
func (db *DB) SetLogger(log logrus.FieldLogger) {
	if log == nil {
		log = defaultLogger()
	}
	db.log = log
}

// runner runs a pruned query, returning rows when wantRows is set and a
// result otherwise.
type runner func(ctx context.Context, wantRows bool) (*sql.Rows, sql.Result, error)

// Query represents a query on a database. It is designed to be run once.
type Query struct {
	run  runner
	ctx  context.Context
	err  error
	pq   *PrunedQuery
	args []any
}

// Iterator is used to iterate over the results of the query.
type Iterator struct {
	rows    *sql.Rows
	cols    []string
	err     error
	result  sql.Result
	started bool
}

// newQuery prunes t with bindings and computes the driver arguments.
func newQuery(ctx context.Context, t *Template, bindings any, opts Options) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	pq, err := t.PruneWith(bindings, opts)
	if err != nil {
		return &Query{ctx: ctx, err: err}
	}
	args, err := pq.Args()
	if err != nil {
		return &Query{ctx: ctx, err: fmt.Errorf("cannot run query: %w", err)}
	}
	return &Query{ctx: ctx, pq: pq, args: args}
}

// Query prunes the template with bindings and builds a new query from the
// result. The query is run on the database when one of [Query.Iter],
// [Query.Run], [Query.Get] or [Query.GetAll] is executed. Only the
// parameters that survive pruning are passed to the driver.
func (db *DB) Query(ctx context.Context, t *Template, bindings any) *Query {
	return db.QueryWith(ctx, t, bindings, Options{})
}

// QueryWith is [DB.Query] with pruning options.
func (db *DB) QueryWith(ctx context.Context, t *Template, bindings any, opts Options) *Query {
	q := newQuery(ctx, t, bindings, opts)
	if q.err != nil {
		return q
	}
	query, args := q.pq.SQL(), q.args
	log := db.log
	q.run = func(innerCtx context.Context, wantRows bool) (rows *sql.Rows, result sql.Result, err error) {
		logQuery(log, query, q.pq.ParamNames())
		sqlstmt, ok, err := stmtCache.prepareStmt(innerCtx, db, db.sqldb, t, query)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			if wantRows {
				rows, err = sqlstmt.QueryContext(innerCtx, args...)
			} else {
				result, err = sqlstmt.ExecContext(innerCtx, args...)
			}
			return rows, result, err
		}
		if wantRows {
			rows, err = db.sqldb.QueryContext(innerCtx, query, args...)
		} else {
			result, err = db.sqldb.ExecContext(innerCtx, query, args...)
		}
		return rows, result, err
	}
	return q
}

func logQuery(log logrus.FieldLogger, query string, params []string) {
	log.WithFields(logrus.Fields{
		"sql":    query,
		"params": params,
	}).Debug("Running pruned query")
}

// SQL returns the pruned query text, or the empty string if pruning failed.
func (q *Query) SQL() string {
	if q.pq == nil {
		return ""
	}
	return q.pq.SQL()
}

// Run is used to run a query on a database and disregard any results.
// Run is an alias for [Query.Get] that takes no arguments.
func (q *Query) Run() error {
	return q.Get()
}

// Get runs the query and decodes the first row returned into the provided
// output arguments. Each output argument is a pointer to a struct with "db"
// tagged fields, a map with string keys, or a value accepted by
// [sql.Rows.Scan]. It returns [ErrNoRows] if output arguments were provided
// but no results were found. Without output arguments the query is executed
// for its side effects only.
//
// A pointer to an empty [Outcome] struct may be provided as the first output
// variable to fill it with information about query execution.
func (q *Query) Get(outputArgs ...any) error {
	if q.err != nil {
		return q.err
	}
	var outcome *Outcome
	if len(outputArgs) > 0 {
		if oc, ok := outputArgs[0].(*Outcome); ok {
			outcome = oc
			outputArgs = outputArgs[1:]
		}
	}
	wantRows := len(outputArgs) > 0

	var err error
	iter := q.iter(wantRows)
	if outcome != nil {
		err = iter.Get(outcome)
	}
	if err == nil && !iter.Next() {
		err = iter.Close()
		if err == nil && wantRows {
			err = ErrNoRows
		}
		return err
	}
	if err == nil {
		err = iter.Get(outputArgs...)
	}
	if cerr := iter.Close(); err == nil {
		err = cerr
	}
	return err
}

// Iter returns an [Iterator] to iterate through the results row by row.
// [Iterator.Close] must be run once iteration is finished.
func (q *Query) Iter() *Iterator {
	return q.iter(true)
}

func (q *Query) iter(wantRows bool) *Iterator {
	if q.err != nil {
		return &Iterator{err: q.err}
	}

	var cols []string
	rows, result, err := q.run(q.ctx, wantRows)
	if err == nil && wantRows {
		cols, err = rows.Columns()
		if err != nil {
			rows.Close()
		}
	}
	if err != nil {
		return &Iterator{err: err}
	}
	return &Iterator{rows: rows, cols: cols, result: result}
}

// Next prepares the next row for [Iterator.Get]. If an error occurs during
// iteration it will be returned with [Iterator.Close].
func (iter *Iterator) Next() bool {
	iter.started = true
	if iter.err != nil || iter.rows == nil {
		return false
	}
	return iter.rows.Next()
}

// Columns returns the names of the result columns.
func (iter *Iterator) Columns() []string {
	return iter.cols
}

// Get decodes the result from the previous [Iterator.Next] call into the
// provided output arguments.
//
// Before the first call of [Iterator.Next] a pointer to an empty [Outcome]
// struct may be passed to Get as the only argument to fill it information
// about query execution.
func (iter *Iterator) Get(outputArgs ...any) (err error) {
	if iter.err != nil {
		return iter.err
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot get result: %w", err)
		}
	}()

	if !iter.started {
		if len(outputArgs) == 1 {
			if oc, ok := outputArgs[0].(*Outcome); ok {
				oc.result = iter.result
				return nil
			}
		}
		return fmt.Errorf("cannot call Get before Next unless getting outcome")
	}

	if iter.rows == nil {
		return fmt.Errorf("iteration ended")
	}

	ptrs, onSuccess, err := scanArgs(iter.cols, outputArgs)
	if err != nil {
		return err
	}
	if err := iter.rows.Scan(ptrs...); err != nil {
		return err
	}
	onSuccess()
	return nil
}

// scanArgs returns one scan target per column. Structs and maps consume all
// remaining columns, any other value consumes exactly one column. onSuccess
// copies scanned map values into their maps.
func scanArgs(cols []string, outputArgs []any) (ptrs []any, onSuccess func(), err error) {
	if len(outputArgs) == 0 {
		return nil, nil, fmt.Errorf("no output arguments provided")
	}
	var fills []func()
	rest := cols
	for i, arg := range outputArgs {
		if len(rest) == 0 {
			return nil, nil, fmt.Errorf("output argument %d (%T) has no columns left to scan", i, arg)
		}
		v := reflect.ValueOf(arg)
		switch {
		case v.Kind() == reflect.Map:
			if v.Type().Key().Kind() != reflect.String {
				return nil, nil, fmt.Errorf("map %T must have string keys", arg)
			}
			if v.IsNil() {
				return nil, nil, fmt.Errorf("got nil map %T", arg)
			}
			names := rest
			vals := make([]any, len(names))
			for j := range vals {
				ptrs = append(ptrs, &vals[j])
			}
			fills = append(fills, func() {
				for j, name := range names {
					key := reflect.ValueOf(name).Convert(v.Type().Key())
					val := reflect.ValueOf(vals[j])
					if !val.IsValid() {
						val = reflect.Zero(v.Type().Elem())
					} else if !val.Type().AssignableTo(v.Type().Elem()) {
						if !val.Type().ConvertibleTo(v.Type().Elem()) {
							continue
						}
						val = val.Convert(v.Type().Elem())
					}
					v.SetMapIndex(key, val)
				}
			})
			rest = nil
		case v.Kind() == reflect.Pointer && !v.IsNil() && v.Elem().Kind() == reflect.Struct && !isScanner(v):
			targets, err := typeinfo.ScanTargets(arg, rest)
			if err != nil {
				return nil, nil, err
			}
			ptrs = append(ptrs, targets...)
			rest = nil
		default:
			ptrs = append(ptrs, arg)
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		return nil, nil, fmt.Errorf("columns %q not scanned into any output argument", rest)
	}
	return ptrs, func() {
		for _, fill := range fills {
			fill()
		}
	}, nil
}

var scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()

// isScanner reports whether v is a struct pointer that scans itself, such as
// *sql.NullString.
func isScanner(v reflect.Value) bool {
	return v.Type().Implements(scannerType)
}

// Close finishes the iteration and returns any errors encountered. Close can
// be called multiple times on the [Iterator] and the same error will be
// returned.
func (iter *Iterator) Close() error {
	iter.started = true
	if iter.rows == nil {
		return iter.err
	}
	err := iter.rows.Err()
	if cerr := iter.rows.Close(); err == nil {
		err = cerr
	}
	iter.rows = nil
	if err != nil {
		iter.err = err
	}
	return iter.err
}

// Outcome holds metadata about executed queries, and can be provided as the
// first output argument to any of the Get methods to populate it with
// information about the query execution.
type Outcome struct {
	result sql.Result
}

// Result returns a [sql.Result] containing information about the query
// execution. If no result is set then Result returns nil.
func (o *Outcome) Result() sql.Result {
	return o.result
}

// GetAll iterates over the query and returns every row as an [M] keyed by
// column name. Unlike [Query.Get] it returns an empty slice rather than
// [ErrNoRows] when there are no rows.
func (q *Query) GetAll() ([]M, error) {
	if q.err != nil {
		return nil, q.err
	}
	all := []M{}
	iter := q.Iter()
	for iter.Next() {
		m := M{}
		if err := iter.Get(m); err != nil {
			iter.Close()
			return nil, err
		}
		all = append(all, m)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return all, nil
}

// TX represents a transaction on the database.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Begin starts a transaction. A transaction must be ended
// with a [TX.Commit] or [TX.Rollback].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.sqldb.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Query prunes the template with bindings and builds a new query from the
// result, to be run in the transaction.
func (tx *TX) Query(ctx context.Context, t *Template, bindings any) *Query {
	return tx.QueryWith(ctx, t, bindings, Options{})
}

// QueryWith is [TX.Query] with pruning options.
func (tx *TX) QueryWith(ctx context.Context, t *Template, bindings any, opts Options) *Query {
	if tx.isDone() {
		if ctx == nil {
			ctx = context.Background()
		}
		return &Query{ctx: ctx, err: ErrTXDone}
	}
	q := newQuery(ctx, t, bindings, opts)
	if q.err != nil {
		return q
	}
	query, args := q.pq.SQL(), q.args
	log := tx.db.log
	q.run = func(innerCtx context.Context, wantRows bool) (rows *sql.Rows, result sql.Result, err error) {
		logQuery(log, query, q.pq.ParamNames())
		sqlstmt, ok := stmtCache.lookupStmt(tx.db, t, query)
		if ok {
			// Register the prepared statement on the transaction. Note that
			// this does not re-prepare the statement on the driver.
			// The txstmt is closed by database/sql when the transaction is
			// committed or rolled back.
			txstmt := tx.sqltx.StmtContext(innerCtx, sqlstmt)
			if wantRows {
				rows, err = txstmt.QueryContext(innerCtx, args...)
			} else {
				result, err = txstmt.ExecContext(innerCtx, args...)
			}
			return rows, result, err
		}

		if wantRows {
			rows, err = tx.sqltx.QueryContext(innerCtx, query, args...)
		} else {
			result, err = tx.sqltx.ExecContext(innerCtx, query, args...)
		}
		return rows, result, err
	}
	return q
}
