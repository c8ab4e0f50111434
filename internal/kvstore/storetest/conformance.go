// Package storetest runs a shared conformance suite against any
// kvstore.Store implementation, the same way a config storetest helper
// exercises every config.Store backend through one behavioral contract.
package storetest

import (
	"bytes"
	"testing"

	"chronodb/internal/kvstore"
)

// Run exercises the kvstore.Store contract (store/load/scan/floor,
// transactional commit/rollback, bogus transactions) against store.
func Run(t *testing.T, store kvstore.Store) {
	t.Helper()

	t.Run("StoreLoadCommit", func(t *testing.T) {
		tx, err := store.BeginTx(true)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		if err := tx.Store("b", []byte("k1"), []byte("v1")); err != nil {
			t.Fatalf("store: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		readTx, err := store.BeginTx(false)
		if err != nil {
			t.Fatalf("begin read tx: %v", err)
		}
		defer readTx.Rollback()
		v, ok, err := readTx.Load("b", []byte("k1"))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !ok || !bytes.Equal(v, []byte("v1")) {
			t.Fatalf("expected v1, got %q ok=%v", v, ok)
		}
	})

	t.Run("RollbackDiscardsWrites", func(t *testing.T) {
		tx, err := store.BeginTx(true)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		if err := tx.Store("b", []byte("rollback-key"), []byte("v")); err != nil {
			t.Fatalf("store: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("rollback: %v", err)
		}

		readTx, err := store.BeginTx(false)
		if err != nil {
			t.Fatalf("begin read tx: %v", err)
		}
		defer readTx.Rollback()
		_, ok, err := readTx.Load("b", []byte("rollback-key"))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if ok {
			t.Fatal("expected rolled-back write to be absent")
		}
	})

	t.Run("BogusTxRejectsWrites", func(t *testing.T) {
		tx, err := store.BeginBogusTx()
		if err != nil {
			t.Fatalf("begin bogus tx: %v", err)
		}
		defer tx.Rollback()
		if tx.Writable() {
			t.Fatal("expected bogus transaction to be non-writable")
		}
		if err := tx.Store("b", []byte("x"), []byte("y")); err == nil {
			t.Fatal("expected write against bogus transaction to fail")
		}
	})

	t.Run("ScanAscendingAndDescending", func(t *testing.T) {
		tx, err := store.BeginTx(true)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		for _, k := range []string{"a", "b", "c", "d"} {
			if err := tx.Store("scan", []byte(k), []byte(k)); err != nil {
				t.Fatalf("store %s: %v", k, err)
			}
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		readTx, err := store.BeginTx(false)
		if err != nil {
			t.Fatalf("begin read tx: %v", err)
		}
		defer readTx.Rollback()

		asc, err := readTx.Scan("scan", []byte("b"), []byte("d"), kvstore.Ascending)
		if err != nil {
			t.Fatalf("scan asc: %v", err)
		}
		var gotAsc []string
		for asc.Next() {
			gotAsc = append(gotAsc, string(asc.Item().Key))
		}
		asc.Close()
		wantAsc := []string{"b", "c", "d"}
		if !stringsEqual(gotAsc, wantAsc) {
			t.Fatalf("asc scan: want %v got %v", wantAsc, gotAsc)
		}

		desc, err := readTx.Scan("scan", []byte("b"), []byte("d"), kvstore.Descending)
		if err != nil {
			t.Fatalf("scan desc: %v", err)
		}
		var gotDesc []string
		for desc.Next() {
			gotDesc = append(gotDesc, string(desc.Item().Key))
		}
		desc.Close()
		wantDesc := []string{"d", "c", "b"}
		if !stringsEqual(gotDesc, wantDesc) {
			t.Fatalf("desc scan: want %v got %v", wantDesc, gotDesc)
		}
	})

	t.Run("Floor", func(t *testing.T) {
		tx, err := store.BeginTx(true)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		for _, k := range []string{"10", "20", "30"} {
			if err := tx.Store("floor", []byte(k), []byte(k)); err != nil {
				t.Fatalf("store %s: %v", k, err)
			}
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		readTx, err := store.BeginTx(false)
		if err != nil {
			t.Fatalf("begin read tx: %v", err)
		}
		defer readTx.Rollback()

		item, ok, err := readTx.Floor("floor", []byte("25"))
		if err != nil {
			t.Fatalf("floor: %v", err)
		}
		if !ok || string(item.Key) != "20" {
			t.Fatalf("floor(25): want 20, got %q ok=%v", item.Key, ok)
		}

		_, ok, err = readTx.Floor("floor", []byte("05"))
		if err != nil {
			t.Fatalf("floor below range: %v", err)
		}
		if ok {
			t.Fatal("expected floor below range to be absent")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		tx, err := store.BeginTx(true)
		if err != nil {
			t.Fatalf("begin tx: %v", err)
		}
		if err := tx.Store("del", []byte("k"), []byte("v")); err != nil {
			t.Fatalf("store: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		tx2, err := store.BeginTx(true)
		if err != nil {
			t.Fatalf("begin tx2: %v", err)
		}
		if err := tx2.Delete("del", []byte("k")); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := tx2.Commit(); err != nil {
			t.Fatalf("commit tx2: %v", err)
		}

		readTx, err := store.BeginTx(false)
		if err != nil {
			t.Fatalf("begin read tx: %v", err)
		}
		defer readTx.Rollback()
		_, ok, err := readTx.Load("del", []byte("k"))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if ok {
			t.Fatal("expected deleted key to be absent")
		}
	})
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
