package sqlprune

import (
	"context"
	"database/sql"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/canonical/sqlprune/internal/parse"
)

// maxVariants bounds the number of distinct pruned queries cached for one
// template on one database. Queries beyond it are run without a driver
// prepared statement.
const maxVariants = 32

// templateIDCount and dbIDCount are global variables used to generate unique
// IDs.
var templateIDCount uint64
var dbIDCount uint64

type dbID = uint64
type templateID = uint64

// statementCache caches the sql.Stmt objects associated with each Template.
// Pruning makes one Template produce different queries, so a Template
// corresponds to a set of sql.Stmt values per database, one per pruned query
// text. The cache is indexed by the Template ID, the DB ID and the query.
//
// The cache closes sql.Stmt objects with a finalizer on the Template.
// Similarly a finalizer is set on DB objects to close all statements
// prepared on the DB, close the DB, and remove references to the DB from the
// cache.
//
// The mutex must be locked when accessing either the stmtDBCache or the
// dbStmtCache.
type statementCache struct {
	stmtDBCache map[templateID]map[dbID]map[string]*sql.Stmt
	dbStmtCache map[dbID]map[templateID]bool
	mutex       sync.RWMutex
}

var once sync.Once
var singleStmtCache *statementCache

// newStatementCache returns the single instance of the statement cache.
func newStatementCache() *statementCache {
	once.Do(func() {
		singleStmtCache = &statementCache{
			stmtDBCache: map[templateID]map[dbID]map[string]*sql.Stmt{},
			dbStmtCache: map[dbID]map[templateID]bool{},
		}
	})
	return singleStmtCache
}

// newTemplate returns a new Template and allocates it in the cache. A
// finalizer is set on the Template to remove all sql.Stmt values associated
// with it from the cache and then run Close on them. The finalizer is run
// after the Template is garbage collected.
func (sc *statementCache) newTemplate(tree *parse.Tree) *Template {
	cacheID := atomic.AddUint64(&templateIDCount, 1)
	t := &Template{tree: tree, cacheID: cacheID}
	sc.mutex.Lock()
	sc.stmtDBCache[cacheID] = map[dbID]map[string]*sql.Stmt{}
	sc.mutex.Unlock()
	runtime.SetFinalizer(t, sc.templateFinalizer)
	return t
}

// newDB returns a new DB and allocates it in the cache. A finalizer is set on
// the DB which removes it from the cache, closes all sql.Stmt values prepared
// upon it and then closes the sql.DB. The finalizer is run after the DB is
// garbage collected.
func (sc *statementCache) newDB(sqldb *sql.DB) *DB {
	cacheID := atomic.AddUint64(&dbIDCount, 1)
	sc.mutex.Lock()
	sc.dbStmtCache[cacheID] = map[templateID]bool{}
	sc.mutex.Unlock()
	db := &DB{sqldb: sqldb, cacheID: cacheID, log: defaultLogger()}
	runtime.SetFinalizer(db, sc.dbFinalizer)
	return db
}

// lookupStmt returns the statement prepared for query on db, if any.
func (sc *statementCache) lookupStmt(db *DB, t *Template, query string) (*sql.Stmt, bool) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	sqlstmt, ok := sc.stmtDBCache[t.cacheID][db.cacheID][query]
	return sqlstmt, ok
}

// prepareSubstrate is an object that queries can be prepared on, e.g. a sql.DB
// or sql.Conn.
type prepareSubstrate interface {
	PrepareContext(context.Context, string) (*sql.Stmt, error)
}

// prepareStmt returns a statement for query prepared on db, preparing and
// caching it if needed. It returns false if the template already has
// maxVariants statements on db, in which case nothing is prepared. Templates
// that were not created by Parse are never cached.
func (sc *statementCache) prepareStmt(ctx context.Context, db *DB, ps prepareSubstrate, t *Template, query string) (*sql.Stmt, bool, error) {
	if t.cacheID == 0 {
		return nil, false, nil
	}
	sc.mutex.RLock()
	// The template ID is only removed from the cache when the finalizer is
	// run, so it is always in stmtDBCache.
	variants := sc.stmtDBCache[t.cacheID][db.cacheID]
	sqlstmt, ok := variants[query]
	full := len(variants) >= maxVariants
	sc.mutex.RUnlock()
	if ok {
		return sqlstmt, true, nil
	}
	if full {
		return nil, false, nil
	}

	sqlstmt, err := ps.PrepareContext(ctx, query)
	if err != nil {
		return nil, false, err
	}
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	variants, ok = sc.stmtDBCache[t.cacheID][db.cacheID]
	if !ok {
		variants = map[string]*sql.Stmt{}
		sc.stmtDBCache[t.cacheID][db.cacheID] = variants
	}
	// Check if a statement has been inserted by someone else since we last
	// checked.
	if alt, ok := variants[query]; ok {
		sqlstmt.Close()
		return alt, true, nil
	}
	variants[query] = sqlstmt
	sc.dbStmtCache[db.cacheID][t.cacheID] = true
	return sqlstmt, true, nil
}

// templateFinalizer removes a Template from the statement caches and closes
// its statements.
func (sc *statementCache) templateFinalizer(t *Template) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for dbCacheID, variants := range sc.stmtDBCache[t.cacheID] {
		for _, sqlstmt := range variants {
			sqlstmt.Close()
		}
		delete(sc.dbStmtCache[dbCacheID], t.cacheID)
	}
	delete(sc.stmtDBCache, t.cacheID)
}

// dbFinalizer closes and removes from the cache all sql.Stmt values prepared
// on the database, removes the database from the cache, then closes the
// sql.DB.
func (sc *statementCache) dbFinalizer(db *DB) {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	for tID := range sc.dbStmtCache[db.cacheID] {
		dbCache := sc.stmtDBCache[tID]
		for _, sqlstmt := range dbCache[db.cacheID] {
			sqlstmt.Close()
		}
		delete(dbCache, db.cacheID)
	}
	delete(sc.dbStmtCache, db.cacheID)
	db.sqldb.Close()
}
