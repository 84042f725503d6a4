package services

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// documentLocks serialises writers of the same document inside this
// process. Row locks in the database cover writers in other processes.
type documentLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *documentLocks) lock(documentID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(documentID))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
