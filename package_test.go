package sqlprune_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlprune"
)

type PackageSuite struct{}

var _ = Suite(&PackageSuite{})

type Person struct {
	ID         int    `db:"id"`
	Fullname   string `db:"name"`
	PostalCode int    `db:"address_id"`
}

type PersonFilter struct {
	Name      string    `db:"name,omitempty"`
	MinID     int       `db:"min_id,omitempty"`
	Addresses []int     `db:"addresses"`
	Since     time.Time `db:"since,omitempty"`
}

func personDB(c *C) *sql.DB {
	sqldb, err := sql.Open("sqlite3", ":memory:")
	c.Assert(err, IsNil)
	// Every connection to :memory: is a new database.
	sqldb.SetMaxOpenConns(1)

	_, err = sqldb.Exec(`
CREATE TABLE person (
	name text,
	id integer,
	address_id integer,
	email text
);
INSERT INTO person VALUES ('Fred', 30, 1000, 'fred@email.com');
INSERT INTO person VALUES ('Mark', 20, 1500, 'mark@email.com');
INSERT INTO person VALUES ('Mary', 40, 3500, 'mary@email.com');
INSERT INTO person VALUES ('James', 35, 4500, 'james@email.com');
`)
	c.Assert(err, IsNil)
	return sqldb
}

func (s *PackageSuite) TestPruneScenarios(c *C) {
	var tests = []struct {
		summary  string
		template string
		bindings any
		sql      string
		params   []string
	}{{
		summary:  "bound parameter keeps the block",
		template: "SELECT 1 FROM dual WHERE 1=1 <if>AND x = :x</if>",
		bindings: sqlprune.M{"x": 5},
		sql:      "SELECT 1 FROM dual WHERE 1=1 AND x = :x",
		params:   []string{"x"},
	}, {
		summary:  "null parameter removes the block",
		template: "SELECT 1 FROM dual WHERE 1=1 <if>AND x = :x</if>",
		bindings: sqlprune.M{"x": nil},
		sql:      "SELECT 1 FROM dual WHERE 1=1 ",
		params:   []string{},
	}, {
		summary:  "else taken",
		template: "WHERE <if>AND salary >= :salary</if><else>rownum < 20</else>",
		bindings: sqlprune.M{"salary": nil},
		sql:      "WHERE rownum < 20",
		params:   []string{},
	}, {
		summary:  "if taken",
		template: "WHERE <if>AND salary >= :salary</if><else>rownum < 20</else>",
		bindings: sqlprune.M{"salary": 3000},
		sql:      "WHERE AND salary >= :salary",
		params:   []string{"salary"},
	}, {
		summary:  "string equality",
		template: `<if c='$str1 = "1"'>:str1</if>`,
		bindings: sqlprune.M{"str1": "1"},
		sql:      ":str1",
		params:   []string{"str1"},
	}, {
		summary:  "numeric string equality",
		template: `<if c='$str1 = "1"'>:str1</if>`,
		bindings: sqlprune.M{"str1": 1},
		sql:      ":str1",
		params:   []string{"str1"},
	}, {
		summary:  "repeat",
		template: `<a sep=",">:id</a>`,
		bindings: sqlprune.M{"id": []string{"4", "5", "6"}},
		sql:      ":id0,:id1,:id2",
		params:   []string{"id0", "id1", "id2"},
	}, {
		summary:  "empty repeat",
		template: `<a sep=",">:id</a>`,
		bindings: sqlprune.M{"id": []string{}},
		sql:      "",
		params:   []string{},
	}, {
		summary:  "struct bindings",
		template: `SELECT * FROM person WHERE 1=1<if> AND name = :name</if><if> AND id >= :min_id</if>`,
		bindings: PersonFilter{Name: "Fred"},
		sql:      "SELECT * FROM person WHERE 1=1 AND name = :name",
		params:   []string{"name"},
	}, {
		summary:  "pointer to struct bindings",
		template: `SELECT * FROM person<if c="$addresses"> WHERE address_id IN <a pre="(" sep=", " post=")">:addresses</a></if>`,
		bindings: &PersonFilter{Addresses: []int{1000, 1500}},
		sql:      "SELECT * FROM person WHERE address_id IN (:addresses0, :addresses1)",
		params:   []string{"addresses0", "addresses1"},
	}, {
		summary:  "no markup",
		template: "SELECT * FROM person WHERE id = :id AND name = :Name OR id = :ID",
		bindings: nil,
		sql:      "SELECT * FROM person WHERE id = :id AND name = :Name OR id = :ID",
		params:   []string{"id", "Name"},
	}}

	for _, t := range tests {
		pq, err := sqlprune.Prune(t.template, t.bindings)
		c.Assert(err, IsNil, Commentf("test %q failed", t.summary))
		c.Check(pq.SQL(), Equals, t.sql, Commentf("test %q failed", t.summary))
		c.Check(pq.ParamNames(), DeepEquals, t.params, Commentf("test %q failed", t.summary))
	}
}

func (s *PackageSuite) TestPruneErrors(c *C) {
	var tests = []struct {
		summary  string
		template string
		bindings any
		err      string
	}{{
		summary:  "parse error",
		template: "SELECT <if>:x",
		err:      `cannot parse template: column 8: missing closing tag </if>`,
	}, {
		summary:  "unsupported tag",
		template: "SELECT <b>:x</b>",
		err:      `cannot parse template: column 8: unsupported tag <b>, .*`,
	}, {
		summary:  "unbound variable",
		template: "SELECT <if>:x</if>",
		bindings: sqlprune.M{},
		err:      `cannot prune template: column 8: cannot evaluate condition "\$x" of <if>: parameter "x" is not bound`,
	}, {
		summary:  "bad bindings",
		template: "SELECT :x",
		bindings: 42,
		err:      `cannot prune template: cannot use int as bindings: need a map with string keys or a struct`,
	}}

	for _, t := range tests {
		_, err := sqlprune.Prune(t.template, t.bindings)
		c.Check(err, ErrorMatches, t.err, Commentf("test %q failed", t.summary))
	}
}

func (s *PackageSuite) TestErrorTypes(c *C) {
	_, err := sqlprune.Parse(`SELECT <x>`)
	var tagErr *sqlprune.UnsupportedTagError
	c.Assert(errors.As(err, &tagErr), Equals, true)
	c.Check(tagErr.Tag, Equals, "x")

	t := sqlprune.MustParse(`SELECT <if c="$a < 'b'">1</if>`)
	_, err = t.Prune(sqlprune.M{"a": []int{1}})
	var cmpErr *sqlprune.ComparisonError
	c.Assert(errors.As(err, &cmpErr), Equals, true)

	_, err = t.Prune(nil)
	var unbound *sqlprune.UnboundVariableError
	c.Assert(errors.As(err, &unbound), Equals, true)
	c.Check(unbound.Name, Equals, "a")

	_, err = sqlprune.Prune(`<a>:a :b</a>`, sqlprune.M{"a": []int{1}, "b": []int{2}})
	var ambiguous *sqlprune.AmbiguousParameterError
	c.Assert(errors.As(err, &ambiguous), Equals, true)
	c.Check(ambiguous.Names, DeepEquals, []string{"a", "b"})

	_, err = sqlprune.Prune(`<if>1 = 1</if>`, nil)
	var inference *sqlprune.ConditionInferenceError
	c.Assert(errors.As(err, &inference), Equals, true)

	_, err = sqlprune.Parse("SELECT\n  <if c='$a ='>1</if>")
	var syntaxErr *sqlprune.SyntaxError
	c.Assert(errors.As(err, &syntaxErr), Equals, true)
	c.Check(syntaxErr.Pos.Line, Equals, 2)
}

func (s *PackageSuite) TestAllowUnbound(c *C) {
	t := sqlprune.MustParse(`SELECT * FROM person<if> WHERE id = :id</if><elsif c="$name"> WHERE name = :name</elsif>`)

	pq, err := t.PruneWith(nil, sqlprune.Options{AllowUnbound: true})
	c.Assert(err, IsNil)
	c.Check(pq.SQL(), Equals, "SELECT * FROM person")

	pq, err = t.PruneWith(sqlprune.M{"name": "Fred"}, sqlprune.Options{AllowUnbound: true})
	c.Assert(err, IsNil)
	c.Check(pq.SQL(), Equals, "SELECT * FROM person WHERE name = :name")
}

func (s *PackageSuite) TestParams(c *C) {
	c.Check(sqlprune.Params(`SELECT :a, ':b', "c:d" <if c="$x">:E</if> -- :f
	/* :g */ x::int, :A`), DeepEquals, []string{"a", "E"})
}

func (s *PackageSuite) TestArgs(c *C) {
	pq, err := sqlprune.Prune(
		`SELECT * FROM t WHERE a = :a AND b = :B AND a2 = :A<if> AND c = :c</if> AND id IN <a pre="(" sep="," post=")">:id</a>`,
		sqlprune.M{"a": 1, "B": "two", "c": nil, "id": []int64{7, 8}, "unused": 3},
	)
	c.Assert(err, IsNil)
	args, err := pq.Args()
	c.Assert(err, IsNil)
	c.Check(args, DeepEquals, []any{
		sql.Named("a", 1),
		sql.Named("B", "two"),
		sql.Named("A", 1),
		sql.Named("id0", int64(7)),
		sql.Named("id1", int64(8)),
	})
}

func (s *PackageSuite) TestArgsMissingBinding(c *C) {
	pq, err := sqlprune.Prune(`SELECT :a`, nil)
	c.Assert(err, IsNil)
	_, err = pq.Args()
	c.Assert(err, ErrorMatches, `parameter "a" has no binding`)

	db := sqlprune.NewDB(personDB(c))
	err = db.Query(context.Background(), sqlprune.MustParse(`SELECT :a`), nil).Run()
	c.Assert(err, ErrorMatches, `cannot run query: parameter "a" has no binding`)
}

func (s *PackageSuite) TestTemplateReuse(c *C) {
	t := sqlprune.MustParse(`SELECT name FROM person WHERE 1=1<if> AND id = :id</if>`)
	c.Check(t.String(), Equals, `SELECT name FROM person WHERE 1=1<if> AND id = :id</if>`)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var id any
			want := "SELECT name FROM person WHERE 1=1"
			if i%2 == 0 {
				id = i
				want += " AND id = :id"
			}
			pq, err := t.Prune(sqlprune.M{"id": id})
			c.Check(err, IsNil)
			c.Check(pq.SQL(), Equals, want)
		}(i)
	}
	wg.Wait()
}

func (s *PackageSuite) TestGet(c *C) {
	db := sqlprune.NewDB(personDB(c))
	t := sqlprune.MustParse(`SELECT id, name, address_id FROM person
<if>WHERE name = :name</if>
<elsif>WHERE id = :id</elsif>
ORDER BY id`)

	p := Person{}
	err := db.Query(context.Background(), t, sqlprune.M{"name": "Mary", "id": nil}).Get(&p)
	c.Assert(err, IsNil)
	c.Check(p, Equals, Person{ID: 40, Fullname: "Mary", PostalCode: 3500})

	p = Person{}
	err = db.Query(context.Background(), t, sqlprune.M{"name": nil, "id": 35}).Get(&p)
	c.Assert(err, IsNil)
	c.Check(p, Equals, Person{ID: 35, Fullname: "James", PostalCode: 4500})

	// No filter, the first row by id.
	m := sqlprune.M{}
	err = db.Query(context.Background(), t, sqlprune.M{"name": nil, "id": nil}).Get(m)
	c.Assert(err, IsNil)
	c.Check(m, DeepEquals, sqlprune.M{"id": int64(20), "name": "Mark", "address_id": int64(1500)})

	var id int
	var name string
	err = db.Query(context.Background(), sqlprune.MustParse(`SELECT id, name FROM person WHERE id = :id`), sqlprune.M{"id": 30}).Get(&id, &name)
	c.Assert(err, IsNil)
	c.Check(id, Equals, 30)
	c.Check(name, Equals, "Fred")

	err = db.Query(context.Background(), t, sqlprune.M{"name": "Nobody", "id": nil}).Get(&p)
	c.Assert(err, Equals, sqlprune.ErrNoRows)
}

func (s *PackageSuite) TestGetErrors(c *C) {
	db := sqlprune.NewDB(personDB(c))
	t := sqlprune.MustParse(`SELECT id, email FROM person WHERE id = :id`)

	p := Person{}
	err := db.Query(context.Background(), t, sqlprune.M{"id": 30}).Get(&p)
	c.Assert(err, ErrorMatches, `cannot get result: no tag in sqlprune_test.Person matches column "email"`)

	var id int
	err = db.Query(context.Background(), t, sqlprune.M{"id": 30}).Get(&id)
	c.Assert(err, ErrorMatches, `cannot get result: columns \["email"\] not scanned into any output argument`)

	// Pruning errors surface on Run.
	err = db.Query(context.Background(), sqlprune.MustParse(`SELECT <if>:x</if>`), nil).Run()
	c.Assert(err, ErrorMatches, `cannot prune template: .*parameter "x" is not bound`)
}

func (s *PackageSuite) TestIter(c *C) {
	db := sqlprune.NewDB(personDB(c))
	t := sqlprune.MustParse(`SELECT id, name, address_id FROM person
<if c="$ids">WHERE id IN <a pre="(" sep=", " post=")">:ids</a></if>
ORDER BY id DESC`)

	iter := db.Query(context.Background(), t, PersonFilter{Addresses: nil, MinID: 0}).Iter()
	c.Assert(iter.Close(), ErrorMatches, `cannot prune template: .*parameter "ids" is not bound`)

	iter = db.Query(context.Background(), t, sqlprune.M{"ids": []int{20, 40, 99}}).Iter()
	c.Check(iter.Columns(), DeepEquals, []string{"id", "name", "address_id"})
	var people []Person
	for iter.Next() {
		p := Person{}
		c.Assert(iter.Get(&p), IsNil)
		people = append(people, p)
	}
	c.Assert(iter.Close(), IsNil)
	c.Check(people, DeepEquals, []Person{{40, "Mary", 3500}, {20, "Mark", 1500}})

	// Close can be called more than once.
	c.Assert(iter.Close(), IsNil)
	c.Assert(iter.Get(&Person{}), ErrorMatches, "cannot get result: iteration ended")
}

func (s *PackageSuite) TestIterGetBeforeNext(c *C) {
	db := sqlprune.NewDB(personDB(c))
	iter := db.Query(context.Background(), sqlprune.MustParse(`SELECT id FROM person`), nil).Iter()
	defer iter.Close()
	err := iter.Get(&Person{})
	c.Assert(err, ErrorMatches, "cannot get result: cannot call Get before Next unless getting outcome")
}

func (s *PackageSuite) TestGetAll(c *C) {
	db := sqlprune.NewDB(personDB(c))
	t := sqlprune.MustParse(`SELECT name FROM person WHERE 1=1<if> AND id > :min_id</if> ORDER BY id`)

	rows, err := db.Query(context.Background(), t, sqlprune.M{"min_id": 30}).GetAll()
	c.Assert(err, IsNil)
	c.Check(rows, DeepEquals, []sqlprune.M{{"name": "James"}, {"name": "Mary"}})

	rows, err = db.Query(context.Background(), t, sqlprune.M{"min_id": 100}).GetAll()
	c.Assert(err, IsNil)
	c.Check(rows, HasLen, 0)
}

func (s *PackageSuite) TestOutcome(c *C) {
	db := sqlprune.NewDB(personDB(c))
	t := sqlprune.MustParse(`UPDATE person SET email = 'x'<if> WHERE address_id IN <a pre="(" sep="," post=")">:ids</a></if>`)

	var outcome sqlprune.Outcome
	c.Check(outcome.Result(), IsNil)
	err := db.Query(context.Background(), t, sqlprune.M{"ids": []int{1000, 1500}}).Get(&outcome)
	c.Assert(err, IsNil)
	n, err := outcome.Result().RowsAffected()
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(2))

	err = db.Query(context.Background(), t, sqlprune.M{"ids": nil}).Get(&outcome)
	c.Assert(err, IsNil)
	n, err = outcome.Result().RowsAffected()
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(4))
}

func (s *PackageSuite) TestTransaction(c *C) {
	db := sqlprune.NewDB(personDB(c))
	insert := sqlprune.MustParse(`INSERT INTO person (name, id, address_id) VALUES (:name, :id, <if c="$address_id">:address_id</if><else>0</else>)`)
	count := sqlprune.MustParse(`SELECT count(*) FROM person`)

	tx, err := db.Begin(context.Background(), nil)
	c.Assert(err, IsNil)
	err = tx.Query(context.Background(), insert, Person{ID: 50, Fullname: "Ann"}).Run()
	c.Assert(err, IsNil)
	c.Assert(tx.Rollback(), IsNil)

	var n int
	c.Assert(db.Query(context.Background(), count, nil).Get(&n), IsNil)
	c.Check(n, Equals, 4)

	tx, err = db.Begin(context.Background(), &sqlprune.TXOptions{})
	c.Assert(err, IsNil)
	err = tx.Query(context.Background(), insert, Person{ID: 50, Fullname: "Ann", PostalCode: 7000}).Run()
	c.Assert(err, IsNil)
	c.Assert(tx.Commit(), IsNil)

	c.Assert(tx.Commit(), Equals, sqlprune.ErrTXDone)
	c.Assert(tx.Query(context.Background(), count, nil).Run(), Equals, sqlprune.ErrTXDone)

	p := Person{}
	err = db.Query(context.Background(), sqlprune.MustParse(`SELECT name, id, address_id FROM person WHERE id = :id`), sqlprune.M{"id": 50}).Get(&p)
	c.Assert(err, IsNil)
	c.Check(p, Equals, Person{ID: 50, Fullname: "Ann", PostalCode: 7000})
}

func (s *PackageSuite) TestQuerySQL(c *C) {
	db := sqlprune.NewDB(personDB(c))
	q := db.Query(context.Background(), sqlprune.MustParse(`SELECT 1<if> WHERE :x</if>`), sqlprune.M{"x": 0})
	c.Check(q.SQL(), Equals, "SELECT 1")
	q = db.Query(context.Background(), sqlprune.MustParse(`SELECT <if>:x</if>`), nil)
	c.Check(q.SQL(), Equals, "")
}

func (s *PackageSuite) TestLogging(c *C) {
	db := sqlprune.NewDB(personDB(c))
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	db.SetLogger(log)

	err := db.Query(context.Background(), sqlprune.MustParse(`SELECT 1<if> WHERE :x = 1</if>`), sqlprune.M{"x": 1}).Run()
	c.Assert(err, IsNil)
	c.Assert(hook.Entries, HasLen, 1)
	entry := hook.LastEntry()
	c.Check(entry.Level, Equals, logrus.DebugLevel)
	c.Check(entry.Data["sql"], Equals, "SELECT 1 WHERE :x = 1")
	c.Check(entry.Data["params"], DeepEquals, []string{"x"})

	db.SetLogger(nil)
}

func (s *PackageSuite) TestNewDBNil(c *C) {
	c.Check(sqlprune.NewDB(nil), IsNil)
	sqldb := personDB(c)
	c.Check(sqlprune.NewDB(sqldb).PlainDB(), Equals, sqldb)
}
