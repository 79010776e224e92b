// Package pebblestore wraps the Pebble DB shared by every partition of a
// node. It applies the configured fsync policy to batch commits and reports
// read and commit sizes to a MetricsHook.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeInterval})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set(logstorage.KeyBlock(0, 1), frames, nil)
//	err = db.CommitBatch(b)
//
// Last returns the highest key in a range, which recovery uses to find the
// newest block of a partition.
package pebblestore
