/*
Package expr compiles and evaluates the conditions written in the c attribute
of <if> and <elsif> tags.

# Grammar

From highest to lowest precedence:

	primary    = "(" or ")" | "$" name | string | number
	unary      = "not" unary | primary
	comparison = unary { ("=" | "!=" | "<" | ">" | "<=" | ">=") unary }
	and        = comparison { "and" comparison }
	or         = and { "or" and }

Keywords are case insensitive. Strings are single or double quoted, a doubled
quote standing for one quote. Numbers are written -?digits[.digits] with '.'
as the decimal point whatever the locale.

# Evaluation

Variables are looked up in an Env, case insensitively. A value used as a bare
operand of not, and, or, or as the whole condition, is reduced to its
truthiness: null is false, a number is true unless zero, a list is true
unless empty, strings and dates are true. The and and or operators short
circuit, so a variable on the right of a decided operator is never looked up.

Comparisons coerce their operands in one place, see compare.
*/
package expr
