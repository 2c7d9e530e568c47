/*
Package rows implements the row-operation engine for plugin tables.

Every operation validates against the schema registry's cached schema
document — never against the physical table — so behavior stays
deterministic while migrations reshape the table underneath. Physical
tables are named {plugin}_{table}; the implicit id, created_at and
updated_at columns belong to the engine and reject caller writes.

# Filter language

Filters are JSON documents in a MongoDB-style operator vocabulary:

	{"score": {"$gte": 100, "$lte": 200}, "status": "active"}
	{"$or": [{"rank": {"$gt": 2}}, {"username": {"$in": ["a", "b"]}}]}

A bare value is $eq shorthand. $lt/$lte/$gt/$gte are only legal on
numeric and datetime fields; using them on a string field fails at
planning time. Filters compile to parameterized SQL with keys in
sorted order so identical filters produce identical statements.

# Atomic updates

Patch operators compile into single statements expressing the new
value in terms of the old:

	$inc  →  col = col + ?
	$max  →  col = MAX(col, ?)
	$min  →  col = MIN(col, ?)

so N concurrent $inc patches on one row yield exactly N increments
with no engine-level locking. updated_at is rewritten on every
successful update.
*/
package rows
