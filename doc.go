/*
Package sqlprune builds SQL queries from templates whose optional parts are
marked up with a handful of tags.

A search screen with five optional filters needs thirty two variants of the
same query. Instead of concatenating strings, the variants are written once,
with the optional parts wrapped in tags, and sqlprune removes the parts that
do not apply to a given set of bindings. The SQL itself is never parsed or
validated; it is passed through verbatim.

# Basics

Parameters are written :name in SQL text, and are bound by name,
ignoring case, from a map with string keys or from a struct whose fields
carry `db` tags:

	type Filter struct {
		Team  string   `db:"team,omitempty"`
		Names []string `db:"names"`
	}

	t := sqlprune.MustParse(`
	SELECT name, id FROM person WHERE 1=1
	<if> AND team = :team</if>
	<if c="$names"> AND name IN <a pre="(" sep=", " post=")">:names</a></if>`)

	pq, err := t.Prune(Filter{Team: "engineering"})
	// pq.SQL() == "\nSELECT name, id FROM person WHERE 1=1\n AND team = :team\n"

Zero fields tagged omitempty are bound to null.

# Tags

There are four tags:

 1. <if c="condition">...</if>
    - Keeps its body if the condition holds.

 2. <elsif c="condition">...</elsif>
    - Must follow an <if> or <elsif>. Keeps its body if no earlier member of
      the chain was kept and the condition holds.

 3. <else>...</else>
    - Must follow an <if> or <elsif>. Keeps its body if no earlier member of
      the chain was kept.

 4. <a pre="(" sep="," post=")">...</a>
    - Repeats its body once per element of a list. The body must reference
      exactly one parameter, which is renamed :name0, :name1 and so on in the
      copies. The block is removed if the list is null or empty.

When the c attribute is left out the condition is that every parameter in
the body is non-null and, if it is a number, non-zero. A body holding tags
needs an explicit condition.

Text inside quoted SQL literals is never taken for a tag or a parameter, and
a < that does not start a well formed tag is plain SQL, so "rownum < 20"
needs no escaping. Tags inside SQL comments are still markup, so a trailing
"-- note" before a closing tag is fine. Parameters inside comments are
ignored.

# Conditions

Conditions reference parameters as $name and combine comparisons with and,
or, not and parentheses:

	$total >= 100 and ($status = 'open' or not $archived)

Values are compared loosely: a number equals a string with the same numeric
value, so $id = "1" holds when id is bound to 1. Dates compare
chronologically with other dates and with ISO 8601 strings. Null equals only
null. Lists cannot be compared.

# Running queries

A [DB] wraps a [database/sql.DB] and runs pruned queries, passing as
[database/sql.NamedArg] values only the parameters that survive pruning.
Drivers of the SQLite family bind :name parameters by name. Driver prepared
statements are cached per template, database and pruned query.
*/
package sqlprune
