//go:build linux

package epoll

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/indigo-web/evhttp/httpconn"
	"github.com/indigo-web/evhttp/transport"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var _ httpconn.Scheduler = new(loop)

const maxEvents = 256

// loop is a single reactor goroutine. Every transport is bound to exactly one loop, which
// runs all of its continuations, so they never run concurrently.
type loop struct {
	epfd   int
	wakefd int
	log    *zap.Logger
	conns  map[int]*Transport
	// runq holds continuations of closed transports.
	runq     []func()
	acceptor *acceptor
	exiting  bool

	mu     sync.Mutex
	posted []func()
	dead   bool
}

func newLoop(log *zap.Logger) (*loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}

	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	})
	if err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("epoll_ctl", err)
	}

	return &loop{
		epfd:   epfd,
		wakefd: wakefd,
		log:    log,
		conns:  make(map[int]*Transport),
	}, nil
}

func (l *loop) RunOnReadable(tr httpconn.Transport, cont func()) {
	t := tr.(*Transport)
	if t.closed {
		l.runq = append(l.runq, cont)
		return
	}

	t.onRead = cont
	if t.interrupted.Load() {
		l.runq = append(l.runq, func() {
			l.interrupt(t)
		})
		return
	}

	l.arm(t)
}

func (l *loop) RunOnWritable(tr httpconn.Transport, cont func()) {
	t := tr.(*Transport)
	if t.closed {
		l.runq = append(l.runq, cont)
		return
	}

	t.onWrite = cont
	l.arm(t)
}

// interrupt runs the pending read continuation, if there's any. The descriptor may stay armed
// for reading, in which case the event finds no continuation and is ignored.
func (l *loop) interrupt(t *Transport) {
	if t.closed || t.onRead == nil || !t.interrupted.Swap(false) {
		return
	}

	cont := t.onRead
	t.onRead = nil
	cont()
}

// post schedules the task to be run on the loop. Safe for concurrent use. Returns false
// if the loop is already released.
func (l *loop) post(task func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dead {
		return false
	}

	l.posted = append(l.posted, task)
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(l.wakefd, one[:])
	return true
}

func (l *loop) run() error {
	events := make([]unix.EpollEvent, maxEvents)

	for !l.exiting {
		timeout := -1
		if len(l.runq) > 0 {
			timeout = 0
		}

		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			return os.NewSyscallError("epoll_wait", err)
		}

		for _, ev := range events[:n] {
			l.handle(ev)
		}

		l.drain()
	}

	return nil
}

func (l *loop) handle(ev unix.EpollEvent) {
	fd := int(ev.Fd)

	switch {
	case fd == l.wakefd:
		l.wakeup()
	case l.acceptor != nil && fd == l.acceptor.fd:
		l.acceptor.accept()
	default:
		t, ok := l.conns[fd]
		if !ok {
			return
		}

		var read, write func()
		if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			read, t.onRead = t.onRead, nil
		}

		if ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			write, t.onWrite = t.onWrite, nil
		}

		// the descriptor is disarmed after every event, so the interest in the direction,
		// which didn't fire, must be renewed
		l.arm(t)

		if write != nil {
			write()
		}

		if read != nil {
			read()
		}
	}
}

func (l *loop) wakeup() {
	var buff [8]byte
	_, _ = unix.Read(l.wakefd, buff[:])

	l.mu.Lock()
	tasks := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}

// arm renews the one-shot interest in the directions having a pending continuation.
func (l *loop) arm(t *Transport) {
	if t.closed {
		return
	}

	var events uint32
	if t.onRead != nil {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}

	if t.onWrite != nil {
		events |= unix.EPOLLOUT
	}

	if events == 0 {
		return
	}

	op := unix.EPOLL_CTL_MOD
	if !t.added {
		op = unix.EPOLL_CTL_ADD
		t.added = true
	}

	err := unix.EpollCtl(l.epfd, op, t.fd, &unix.EpollEvent{
		Events: events | unix.EPOLLONESHOT,
		Fd:     int32(t.fd),
	})
	if err != nil {
		l.log.Debug("epoll_ctl failed", zap.Int("fd", t.fd), zap.Error(err))
		_ = l.close(t)
	}
}

func (l *loop) attach(t *Transport, spawn transport.Spawn) {
	if l.exiting {
		_ = unix.Close(t.fd)
		return
	}

	t.loop = l
	l.conns[t.fd] = t
	spawn(t, l)
}

func (l *loop) close(t *Transport) error {
	if t.closed {
		return nil
	}

	t.closed = true
	delete(l.conns, t.fd)
	if t.added {
		_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, t.fd, nil)
	}

	if t.onRead != nil {
		l.runq = append(l.runq, t.onRead)
		t.onRead = nil
	}

	if t.onWrite != nil {
		l.runq = append(l.runq, t.onWrite)
		t.onWrite = nil
	}

	return os.NewSyscallError("close", unix.Close(t.fd))
}

func (l *loop) drain() {
	for len(l.runq) > 0 {
		queue := l.runq
		l.runq = nil

		for _, cont := range queue {
			cont()
		}
	}
}

// shutdown closes every transport of the loop and makes it exit.
func (l *loop) shutdown() {
	for _, t := range l.conns {
		_ = l.close(t)
	}

	l.drain()
	l.exiting = true
}

// release frees the loop's own descriptors. The loop must not be running.
func (l *loop) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dead = true
	_ = unix.Close(l.wakefd)
	_ = unix.Close(l.epfd)
}
