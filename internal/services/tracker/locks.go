package tracker

import "sync"

// lockTable — взаимное исключение по id посылки: два опроса одной посылки
// не могут писать в БД одновременно. Таблица растёт с числом разных посылок,
// по мьютексу на запись; для объёмов бота этого достаточно.
type lockTable struct {
	mu sync.Mutex
	m  map[uint64]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{m: map[uint64]*sync.Mutex{}}
}

// Lock блокирует запись и возвращает функцию разблокировки.
func (lt *lockTable) Lock(id uint64) func() {
	lt.mu.Lock()
	m, ok := lt.m[id]
	if !ok {
		m = &sync.Mutex{}
		lt.m[id] = m
	}
	lt.mu.Unlock()

	m.Lock()
	return m.Unlock
}
