package logging

import (
	"context"
	"fmt"
	"io"
	"sync"

	"devstash/internal/storage"
)

const journalQueue = 256

type journalItem struct {
	rec     storage.Record
	flushed chan struct{}
}

// journal пишет записи в хранилище из своей горутины: цикл обработки
// вызовов не ждет SQLite. Очередь ограничена, при переполнении запись ждет.
type journal struct {
	store  storage.Store
	errOut io.Writer

	mu     sync.RWMutex
	closed bool
	queue  chan journalItem
	done   chan struct{}
}

func newJournal(store storage.Store, errOut io.Writer) *journal {
	j := &journal{
		store:  store,
		errOut: errOut,
		queue:  make(chan journalItem, journalQueue),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *journal) run() {
	defer close(j.done)
	for item := range j.queue {
		if item.flushed != nil {
			close(item.flushed)
			continue
		}
		if err := j.store.SaveRecord(context.Background(), item.rec); err != nil && j.errOut != nil {
			// slog отбрасывает ошибки обработчиков
			fmt.Fprintf(j.errOut, "devstash: journal write failed: %v\n", err)
		}
	}
}

// enqueue ставит запись в очередь; после close записи отбрасываются.
func (j *journal) enqueue(item journalItem) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false
	}
	j.queue <- item
	return true
}

func (j *journal) save(rec storage.Record) {
	j.enqueue(journalItem{rec: rec})
}

// flush ждет записи всего, что было поставлено в очередь до вызова.
func (j *journal) flush(ctx context.Context) error {
	flushed := make(chan struct{})
	if !j.enqueue(journalItem{flushed: flushed}) {
		return nil
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close дописывает очередь и останавливает горутину; хранилище не закрывает.
func (j *journal) close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()
	<-j.done
}
