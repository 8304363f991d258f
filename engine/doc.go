// Package engine opens modernc.org/sqlite databases and registers the vec_*
// scalar functions with the driver. The virtual-table packages build on the
// same driver instance.
package engine
