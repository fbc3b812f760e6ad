//go:build linux

package epoll

import (
	"bufio"
	"fmt"
	"io"
	"net"
	stdhttp "net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/indigo-web/evhttp/config"
	"github.com/indigo-web/evhttp/http"
	"github.com/indigo-web/evhttp/httpconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func echo(c *httpconn.Connection, req *http.Request) {
	_ = httpconn.Collect(c, func(body []byte) {
		resp := http.NewResponse().
			Header("X-Path", req.Path).
			Bytes(append([]byte(nil), body...))
		_ = httpconn.Respond(c, resp)
	})
}

func serve(t *testing.T, cfg *config.Config) (*Server, chan *httpconn.Connection, chan error) {
	srv := New(cfg, zap.NewNop())
	require.NoError(t, srv.Bind("127.0.0.1:0"))

	conns := make(chan *httpconn.Connection, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(func(tr httpconn.Transport, sched httpconn.Scheduler) {
			conns <- httpconn.Start(tr, sched, httpconn.HandlerFunc(echo), httpconn.Options{Config: cfg})
		})
	}()

	return srv, conns, errCh
}

func waitReleased(t *testing.T, c *httpconn.Connection) {
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		require.Fail(t, "connection wasn't released")
	}
}

func TestServer(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := config.Default()
	cfg.NET.EventLoops = 2
	srv, conns, errCh := serve(t, cfg)

	t.Run("pipelined", func(t *testing.T) {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)

		_, err = io.WriteString(conn,
			"POST /first HTTP/1.1\r\nContent-Length: 5\r\n\r\nHello"+
				"GET /second HTTP/1.1\r\n\r\n",
		)
		require.NoError(t, err)

		reader := bufio.NewReader(conn)
		for _, want := range []struct{ path, body string }{{"/first", "Hello"}, {"/second", ""}} {
			resp, err := stdhttp.ReadResponse(reader, nil)
			require.NoError(t, err)
			require.Equal(t, stdhttp.StatusOK, resp.StatusCode)
			require.Equal(t, want.path, resp.Header.Get("X-Path"))
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, want.body, string(body))
		}

		require.NoError(t, conn.Close())
		waitReleased(t, <-conns)
	})

	t.Run("large body", func(t *testing.T) {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)

		payload := strings.Repeat("abcdefgh", 1<<16)
		go func() {
			_, _ = fmt.Fprintf(conn, "POST /large HTTP/1.1\r\nContent-Length: %d\r\n\r\n%s", len(payload), payload)
		}()

		resp, err := stdhttp.ReadResponse(bufio.NewReader(conn), nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, payload, string(body))

		require.NoError(t, conn.Close())
		waitReleased(t, <-conns)
	})

	t.Run("concurrent clients", func(t *testing.T) {
		const clients = 16
		var wg sync.WaitGroup
		wg.Add(clients)

		for i := range clients {
			go func() {
				defer wg.Done()

				conn, err := net.Dial("tcp", srv.Addr().String())
				if !assertNoError(t, err) {
					return
				}

				defer conn.Close()
				_, err = fmt.Fprintf(conn, "GET /client/%d HTTP/1.1\r\nConnection: close\r\n\r\n", i)
				if !assertNoError(t, err) {
					return
				}

				resp, err := stdhttp.ReadResponse(bufio.NewReader(conn), nil)
				if !assertNoError(t, err) {
					return
				}

				if resp.Header.Get("X-Path") != fmt.Sprintf("/client/%d", i) {
					t.Errorf("unexpected path: %s", resp.Header.Get("X-Path"))
				}
			}()
		}

		wg.Wait()
		for range clients {
			waitReleased(t, <-conns)
		}
	})

	srv.Stop()
	require.NoError(t, <-errCh)
	srv.Terminate()
}

func assertNoError(t *testing.T, err error) bool {
	if err != nil {
		t.Error(err)
		return false
	}

	return true
}

func TestTerminate(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv, conns, errCh := serve(t, config.Default())
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	c := <-conns
	srv.Stop()
	require.NoError(t, <-errCh)

	srv.Terminate()
	waitReleased(t, c)
	require.Equal(t, httpconn.Closed, c.State())

	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestTerminateWithoutServe(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := New(config.Default(), zap.NewNop())
	require.NoError(t, srv.Bind("127.0.0.1:0"))
	srv.Stop()
	srv.Terminate()
}
