//go:build linux

package epoll

import (
	"os"
	"time"

	"github.com/indigo-web/evhttp/transport"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// acceptor drains the listening socket on the first loop and spreads accepted connections
// across all loops in a round-robin manner.
type acceptor struct {
	fd      int
	loop    *loop
	loops   []*loop
	next    int
	spawn   transport.Spawn
	backoff *backoff.Backoff
	timer   *time.Timer
	paused  bool
	closed  bool
}

func (a *acceptor) register() error {
	err := unix.EpollCtl(a.loop.epfd, unix.EPOLL_CTL_ADD, a.fd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(a.fd),
	})

	return os.NewSyscallError("epoll_ctl", err)
}

func (a *acceptor) accept() {
	for !a.closed && !a.paused {
		fd, _, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return
		case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
			a.pause(err)
			return
		default:
			a.loop.log.Error("accept failed", zap.Error(err))
			return
		}

		a.backoff.Reset()
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		a.dispatch(&Transport{fd: fd})
	}
}

func (a *acceptor) dispatch(t *Transport) {
	owner := a.loops[a.next%len(a.loops)]
	a.next++

	if owner == a.loop {
		owner.attach(t, a.spawn)
		return
	}

	if !owner.post(func() { owner.attach(t, a.spawn) }) {
		_ = unix.Close(t.fd)
	}
}

// pause takes the listener out of the loop for a while, giving the process a chance to
// free some resources.
func (a *acceptor) pause(err error) {
	_ = unix.EpollCtl(a.loop.epfd, unix.EPOLL_CTL_DEL, a.fd, nil)
	a.paused = true

	pause := a.backoff.Duration()
	a.loop.log.Warn("accept failed, pausing", zap.Error(err), zap.Duration("pause", pause))
	a.timer = time.AfterFunc(pause, func() {
		a.loop.post(a.resume)
	})
}

func (a *acceptor) resume() {
	if a.closed || !a.paused {
		return
	}

	a.paused = false
	if err := a.register(); err != nil {
		a.loop.log.Error("cannot resume accepting", zap.Error(err))
		a.pause(err)
		return
	}

	a.accept()
}

func (a *acceptor) close() {
	if a.closed {
		return
	}

	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
	}

	if !a.paused {
		_ = unix.EpollCtl(a.loop.epfd, unix.EPOLL_CTL_DEL, a.fd, nil)
	}

	_ = unix.Close(a.fd)
}
