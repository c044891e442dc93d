package pbench

import (
	"net"
	"runtime"
	"sync"
)

// ConnectionSupervisor owns the workers spawned by an accept loop. Each worker
// owns exactly one connection. When pinned, a worker locks its goroutine to an
// OS thread and never unlocks it, so the thread exits together with the worker.
type ConnectionSupervisor struct {
	pinned bool

	wg     sync.WaitGroup
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func NewConnectionSupervisor(pinned bool) *ConnectionSupervisor {
	return &ConnectionSupervisor{
		pinned: pinned,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Spawn starts a worker running work on conn. It returns false and closes conn
// if the supervisor has already been shut down.
func (s *ConnectionSupervisor) Spawn(conn net.Conn, work func(net.Conn)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		if s.pinned {
			runtime.LockOSThread()
		}
		defer s.wg.Done()
		defer s.release(conn)
		work(conn)
	}()
	return true
}

func (s *ConnectionSupervisor) release(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Active returns the number of live workers.
func (s *ConnectionSupervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// CloseAll refuses new workers and closes every connection still owned by a
// worker, which makes the worker's next read or write fail.
func (s *ConnectionSupervisor) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
}

// Wait blocks until every spawned worker has returned.
func (s *ConnectionSupervisor) Wait() {
	s.wg.Wait()
}
