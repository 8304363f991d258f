// Package vec0 implements the vec0 virtual-table module: rows of vectors
// with optional partition, metadata, and auxiliary columns, stored in shadow
// tables and searched by brute-force KNN.
//
// Declaration:
//
//	CREATE VIRTUAL TABLE docs USING vec0(
//	  user_id integer partition key,
//	  embedding float[768] distance_metric=cosine,
//	  genre text,
//	  +summary text,
//	  chunk_size=512
//	);
//
// KNN queries constrain the vector column with MATCH and set k:
//
//	SELECT rowid, distance FROM docs
//	WHERE embedding MATCH vec_f32('[...]') AND k = 10 AND genre = 'fiction';
//
// The same tables are reachable from Go through OpenTable, whose Insert,
// Update, Delete, Row, and Search methods validate values before anything is
// written. After DROP TABLE on a vec0 table, call CleanupShadowTables to
// remove the leftover shadow tables; the drop statement itself holds the
// schema lock while the module is torn down, so they cannot be removed from
// inside it.
package vec0
