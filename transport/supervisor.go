package transport

import (
	"net"
	"sync"
)

// Supervisor runs multiple backends as a whole: once one of them fails or Stop is called,
// all of them stop accepting.
type Supervisor struct {
	backends []Backend
	stopOnce sync.Once
	stopch   chan struct{}
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		stopch: make(chan struct{}),
	}
}

// Add binds the backend to the address. If it fails, every already added backend is
// terminated.
func (s *Supervisor) Add(addr string, backend Backend) error {
	if err := backend.Bind(addr); err != nil {
		s.Terminate()
		return err
	}

	s.backends = append(s.backends, backend)

	return nil
}

func (s *Supervisor) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.backends))
	for i, b := range s.backends {
		addrs[i] = b.Addr()
	}

	return addrs
}

// Run serves every backend and blocks until all of them stopped accepting. The first
// occurred error is returned.
func (s *Supervisor) Run(spawn Spawn) error {
	if len(s.backends) == 0 {
		return nil
	}

	errch := make(chan error, len(s.backends))

	for _, b := range s.backends {
		go func(b Backend) {
			errch <- b.Serve(spawn)
		}(b)
	}

	var err error
	remaining := len(s.backends)

	select {
	case err = <-errch:
		remaining--
	case <-s.stopch:
	}

	s.Stop()
	for range remaining {
		if e := <-errch; err == nil {
			err = e
		}
	}

	return err
}

// Stop makes every backend stop accepting new connections.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopch)

		for _, b := range s.backends {
			b.Stop()
		}
	})
}

// Terminate closes every live connection of every backend.
func (s *Supervisor) Terminate() {
	s.Stop()

	for _, b := range s.backends {
		b.Terminate()
	}
}
