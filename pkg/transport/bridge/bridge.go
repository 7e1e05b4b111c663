// Package bridge speaks framed native JSON to an engine host in another
// process, over a socket or the stdio of a spawned binary.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/rexliu/fedwallet/pkg/ipc"
	"github.com/rexliu/fedwallet/pkg/transport"
)

// ErrUnavailable wraps failures of the underlying channel.
var ErrUnavailable = errors.New("engine bridge unavailable")

// Transport frames requests onto a stream and reads responses off it.
type Transport struct {
	transport.Handlers

	rwc     io.ReadWriteCloser
	writeMu sync.Mutex
	out     *transport.Queue
	gm      *fn.GoroutineManager

	mu     sync.Mutex
	closed bool
	broken error
}

var _ transport.Transport = (*Transport)(nil)

// New starts reading responses from rwc.
func New(rwc io.ReadWriteCloser) *Transport {
	t := &Transport{rwc: rwc, gm: fn.NewGoroutineManager()}
	t.out = transport.NewQueue(t.Deliver)
	t.gm.Go(context.Background(), t.readLoop)
	return t
}

// Dial connects to a running engine host.
func Dial(ctx context.Context, network, addr string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, addr, err)
	}
	return New(conn), nil
}

// Spawn starts name as a child process serving frames on its stdio.
func Spawn(ctx context.Context, name string, args ...string) (*Transport, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrUnavailable, name, err)
	}
	return New(&process{cmd: cmd, stdin: stdin, stdout: stdout}), nil
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		msg, err := ipc.ReadFrame(t.rwc)
		if err != nil {
			if ctx.Err() == nil && !t.isClosed() {
				broken := fmt.Errorf("%w: %v", ErrUnavailable, err)
				t.mu.Lock()
				t.broken = broken
				t.mu.Unlock()
				t.out.Close(true)
				t.Fail(broken)
			}
			return
		}
		t.out.Push(msg)
	}
}

// Send writes req as one frame. A failed write is reported as an error
// response for req, so the caller's callback still completes.
func (t *Transport) Send(req ipc.Request) error {
	t.mu.Lock()
	closed, broken := t.closed, t.broken
	t.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	if broken != nil {
		return broken
	}
	native, err := ipc.EncodeNative(req)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	err = ipc.WriteFrame(t.rwc, native)
	t.writeMu.Unlock()
	if err != nil {
		if t.isClosed() {
			return transport.ErrClosed
		}
		failure := fmt.Errorf("%w: %v", ErrUnavailable, err)
		if !t.out.Push(transport.SyntheticError(req.RequestID, failure)) {
			return failure
		}
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	err := t.rwc.Close()
	t.gm.Stop()
	t.out.Close(false)
	return err
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *process) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *process) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *process) Close() error {
	err := p.stdin.Close()
	if werr := p.cmd.Wait(); werr != nil && err == nil {
		var exitErr *exec.ExitError
		if !errors.As(werr, &exitErr) {
			err = werr
		}
	}
	return err
}
