package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-sync/core/offline"
)

type (
	// DB is a process-local database, for tests and throwaway agents.
	DB struct {
		queue *queueTable
		runs  *runTable
		locks *lockTable
	}

	queueTable struct {
		sync.RWMutex
		table map[string]*offline.QueueItem
		seq   map[string]int64
		next  int64
	}

	runTable struct {
		sync.RWMutex
		table []offline.Run
	}

	lockTable struct {
		sync.Mutex
		held map[string]bool
	}
)

func Open() *DB {
	return &DB{
		queue: &queueTable{table: make(map[string]*offline.QueueItem), seq: make(map[string]int64)},
		runs:  &runTable{},
		locks: &lockTable{held: make(map[string]bool)},
	}
}
