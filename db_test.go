package sqlprune_test

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DATA-DOG/go-sqlmock"
	. "gopkg.in/check.v1"

	"github.com/canonical/sqlprune"
)

// MockSuite checks the arguments handed to the driver.
type MockSuite struct {
	db   *sqlprune.DB
	mock sqlmock.Sqlmock
}

var _ = Suite(&MockSuite{})

func (s *MockSuite) SetUpTest(c *C) {
	sqldb, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	c.Assert(err, IsNil)
	s.db = sqlprune.NewDB(sqldb)
	s.mock = mock
}

func (s *MockSuite) TearDownTest(c *C) {
	c.Check(s.mock.ExpectationsWereMet(), IsNil)
	s.db = nil
	s.mock = nil
}

func (s *MockSuite) TestOnlyUsedParametersPassed(c *C) {
	t := sqlprune.MustParse(`UPDATE person SET email = :email<if> WHERE id = :id</if><else> WHERE name = :name</else>`)

	s.mock.ExpectPrepare(`UPDATE person SET email = :email WHERE name = :name`).
		ExpectExec().
		WithArgs(sql.Named("email", "x@y.z"), sql.Named("name", "Fred")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	var outcome sqlprune.Outcome
	err := s.db.Query(context.Background(), t, sqlprune.M{"email": "x@y.z", "id": nil, "name": "Fred"}).Get(&outcome)
	c.Assert(err, IsNil)
	n, err := outcome.Result().RowsAffected()
	c.Assert(err, IsNil)
	c.Check(n, Equals, int64(1))
}

func (s *MockSuite) TestRepeatArguments(c *C) {
	t := sqlprune.MustParse(`SELECT name FROM person WHERE id IN <a pre="(" sep=", " post=")">:ids</a>`)

	s.mock.ExpectPrepare(`SELECT name FROM person WHERE id IN (:ids0, :ids1, :ids2)`).
		ExpectQuery().
		WithArgs(sql.Named("ids0", 3), sql.Named("ids1", 1), sql.Named("ids2", 2)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Ann").AddRow("Bob"))

	rows, err := s.db.Query(context.Background(), t, sqlprune.M{"ids": []int{3, 1, 2}}).GetAll()
	c.Assert(err, IsNil)
	c.Check(rows, DeepEquals, []sqlprune.M{{"name": "Ann"}, {"name": "Bob"}})
}

func (s *MockSuite) TestPreparedOncePerVariant(c *C) {
	t := sqlprune.MustParse(`DELETE FROM person<if> WHERE id = :id</if>`)

	s.mock.ExpectPrepare(`DELETE FROM person WHERE id = :id`)
	s.mock.ExpectExec(`DELETE FROM person WHERE id = :id`).
		WithArgs(sql.Named("id", 1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(`DELETE FROM person WHERE id = :id`).
		WithArgs(sql.Named("id", 2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectPrepare(`DELETE FROM person`).
		ExpectExec().
		WillReturnResult(sqlmock.NewResult(0, 5))

	c.Assert(s.db.Query(context.Background(), t, sqlprune.M{"id": 1}).Run(), IsNil)
	c.Assert(s.db.Query(context.Background(), t, sqlprune.M{"id": 2}).Run(), IsNil)
	c.Assert(s.db.Query(context.Background(), t, sqlprune.M{"id": nil}).Run(), IsNil)
}

func (s *MockSuite) TestDriverError(c *C) {
	t := sqlprune.MustParse(`SELECT name FROM person<if> WHERE id = :id</if>`)

	s.mock.ExpectPrepare(`SELECT name FROM person WHERE id = :id`).
		ExpectQuery().
		WithArgs(sql.Named("id", 7)).
		WillReturnError(errors.New("boom"))

	var name string
	err := s.db.Query(context.Background(), t, sqlprune.M{"id": 7}).Get(&name)
	c.Assert(err, ErrorMatches, "boom")
}

func (s *MockSuite) TestPrepareError(c *C) {
	t := sqlprune.MustParse(`SELECT nme FROM person`)

	s.mock.ExpectPrepare(`SELECT nme FROM person`).WillReturnError(errors.New("no such column: nme"))

	_, err := s.db.Query(context.Background(), t, nil).GetAll()
	c.Assert(err, ErrorMatches, "no such column: nme")
}

func (s *MockSuite) TestTransaction(c *C) {
	t := sqlprune.MustParse(`INSERT INTO person (name<if c="$id">, id</if>) VALUES (:name<if c="$id">, :id</if>)`)

	s.mock.ExpectBegin()
	s.mock.ExpectExec(`INSERT INTO person (name) VALUES (:name)`).
		WithArgs(sql.Named("name", "Ann")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	s.mock.ExpectCommit()

	tx, err := s.db.Begin(context.Background(), &sqlprune.TXOptions{Isolation: sql.LevelDefault})
	c.Assert(err, IsNil)
	err = tx.Query(context.Background(), t, sqlprune.M{"name": "Ann", "id": 0}).Run()
	c.Assert(err, IsNil)
	c.Assert(tx.Commit(), IsNil)
	c.Assert(tx.Rollback(), Equals, sqlprune.ErrTXDone)
}
