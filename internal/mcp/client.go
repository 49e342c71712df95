package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pmacl/vspilot/internal/logging"
)

// Transport failure sentinels. Both wrap into the errors returned by Call
// so callers can classify with errors.Is.
var (
	// ErrClosed reports that the transport shut down, or the child
	// process exited, while a call was outstanding.
	ErrClosed = errors.New("mcp: transport closed")
	// ErrTimeout reports that a bounded wait expired before the matching
	// response arrived.
	ErrTimeout = errors.New("mcp: call timed out")
)

const (
	// DefaultHandshakeTimeout bounds the wait for the initialize response.
	DefaultHandshakeTimeout = 5 * time.Second
	// DefaultCallTimeout bounds every other blocking wait.
	DefaultCallTimeout = 10 * time.Second

	// maxFrameBytes caps a single inbound line. Screenshots arrive
	// base64-encoded inside one frame, so this is deliberately generous.
	maxFrameBytes = 32 * 1024 * 1024

	killGrace = 5 * time.Second
)

// Options configures Start.
type Options struct {
	Command string
	Args    []string
	// Env is overlaid on the parent environment.
	Env map[string]string

	Client           ClientInfo
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
	Logger           *logging.Logger
}

// Client is a JSON-RPC session over one child process. Exactly one
// background reader decodes the child's stdout; callers block on a
// per-request waiter resolved by id, so multiple requests may be
// outstanding concurrently and responses may arrive in any order.
type Client struct {
	logger *logging.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// writeMu serializes frame writes; only the transport writes to the
	// child's input stream.
	writeMu sync.Mutex

	// mu guards pending, nextID and closedErr. The reader resolves a
	// waiter by removing it from pending before sending, so a response
	// is delivered at most once and stale responses fall through to the
	// drop path.
	mu        sync.Mutex
	pending   map[int64]chan *Response
	nextID    int64
	closedErr error

	callTimeout time.Duration

	closeOnce  sync.Once
	readerDone chan struct{}
}

// Start launches the configured command, wires its pipes, starts the
// reader, and performs the initialize handshake. On handshake failure the
// child is torn down before the error is returned.
func Start(opts Options) (*Client, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("mcp: no command configured")
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Command, err)
	}

	c := newClient(stdin, stdout, opts.CallTimeout, opts.Logger)
	c.cmd = cmd
	go c.drainStderr(stderr)

	if err := c.handshake(opts.HandshakeTimeout, opts.Client); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}
	return c, nil
}

// newClient wires a client over arbitrary streams and starts the reader.
// Tests use it directly with in-process pipes; Start attaches a process.
func newClient(stdin io.WriteCloser, stdout io.Reader, callTimeout time.Duration, logger *logging.Logger) *Client {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	c := &Client{
		logger:      logger,
		stdin:       stdin,
		pending:     make(map[int64]chan *Response),
		callTimeout: callTimeout,
		readerDone:  make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

func (c *Client) handshake(timeout time.Duration, info ClientInfo) error {
	if info.Name == "" {
		info = ClientInfo{Name: "vspilot", Version: "0.1.0"}
	}
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      info,
	}
	if _, err := c.call(context.Background(), "initialize", params, timeout); err != nil {
		return err
	}
	return c.Notify("notifications/initialized", map[string]any{})
}

// Call issues a request and blocks for its response, bounded by the
// default call timeout and ctx.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params, c.callTimeout)
}

func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id, ch, err := c.register()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	req := Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
	if err := c.writeFrame(req); err != nil {
		c.discard(id)
		return nil, fmt.Errorf("%s: write request: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, ErrClosed)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-timer.C:
		// The request may still complete later; dropping the waiter makes
		// the reader discard the late response instead of misdelivering it.
		c.discard(id)
		return nil, fmt.Errorf("%s: %w after %s", method, ErrTimeout, timeout)
	case <-ctx.Done():
		c.discard(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(method string, params any) error {
	n := Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
	if err := c.writeFrame(n); err != nil {
		return fmt.Errorf("%s: write notification: %w", method, err)
	}
	return nil
}

// CallTool invokes a server tool through the tools/call method and returns
// the unwrapped result. A response error field becomes a returned error
// carrying the server message.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.Call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}

// register allocates the next request id and its waiter channel. Ids are
// strictly increasing and unique for the life of the session, starting
// at 1.
func (c *Client) register() (int64, chan *Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closedErr != nil {
		return 0, nil, c.closedErr
	}
	c.nextID++
	ch := make(chan *Response, 1)
	c.pending[c.nextID] = ch
	return c.nextID, ch, nil
}

// discard abandons a waiter whose caller gave up. A response arriving for
// a discarded id is dropped by the reader.
func (c *Client) discard(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop is the single reader of the child's output stream. It decodes
// newline-delimited frames, drops notifications and unmatched responses,
// and resolves exactly the waiter whose id matches. When the stream ends,
// unexpectedly or through Close, every pending waiter is released.
func (c *Client) readLoop(stdout io.Reader) {
	defer close(c.readerDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			c.logger.Warnf("malformed frame dropped: %v", err)
			continue
		}
		if f.ID == nil {
			c.logger.Debugf("notification %q dropped", f.Method)
			continue
		}
		c.deliver(*f.ID, &Response{JSONRPC: f.JSONRPC, ID: *f.ID, Result: f.Result, Error: f.Error})
	}

	if err := scanner.Err(); err != nil {
		c.logger.Warnf("read loop ended: %v", err)
	}
	c.failPending()
}

func (c *Client) deliver(id int64, resp *Response) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debugf("response for unknown id %d dropped", id)
		return
	}
	ch <- resp
}

// failPending releases every outstanding waiter and rejects future calls.
// Safe to invoke from both the reader exit path and Close.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closedErr == nil {
		c.closedErr = ErrClosed
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.logger.Debugf("server stderr: %s", scanner.Text())
	}
}

// Close tears the session down: it stops accepting calls, closes the
// child's input stream, requests graceful termination, and force-kills
// after a grace period. Close is idempotent; repeat calls return nil
// without re-signaling the process.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.failPending()
		c.stdin.Close()

		if c.cmd != nil && c.cmd.Process != nil {
			done := make(chan struct{})
			go func() {
				c.cmd.Wait()
				close(done)
			}()

			c.cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(killGrace):
				c.logger.Warnf("server did not exit within %s, killing", killGrace)
				c.cmd.Process.Kill()
				<-done
			}
		}

		// The reader ends once the output stream hits EOF.
		select {
		case <-c.readerDone:
		case <-time.After(time.Second):
		}
	})
	return nil
}
