// Package harness runs business object scenarios against a scratch SQLite
// database.
//
// A scenario is a YAML file that creates and seeds tables, declares an
// object graph in the same shape as a bizcursor config file, and then
// drives the graph through a list of steps: navigation, edits, saves,
// deletes and cancels. Every statement the graph sends to the database is
// recorded against the step that caused it. Assertions check the recorded
// statements, the state of the objects and the final rows in the database.
//
// The statement trace is deterministic for a given scenario, so it can be
// compared against a golden file with RunWithGolden.
//
//	name: rename_customer
//	description: an edited parent row is updated on save
//	setup:
//	  - CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)
//	  - INSERT INTO customers (name) VALUES ('Ann')
//	objects:
//	  - table: customers
//	    key_field: [id]
//	    auto_populate_pk: true
//	root: customers
//	steps:
//	  - op: requery
//	  - op: set
//	    field: name
//	    value: Anna
//	  - op: save
//	assertions:
//	  - type: final_state
//	    table: customers
//	    where: {id: 1}
//	    expect: {name: Anna}
package harness
