package memstore

import (
	"testing"

	"chronodb/internal/kvstore/storetest"
)

func TestMemstoreConformance(t *testing.T) {
	storetest.Run(t, New())
}
