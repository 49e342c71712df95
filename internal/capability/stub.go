package capability

import (
	"context"
	"sync"
)

// Stub is a scripted in-memory adapter for tests. It records every call
// in order and returns configured results. The engine and monitor test
// suites both drive it, so it lives here rather than in a _test file.
type Stub struct {
	mu    sync.Mutex
	calls []string

	Windows       []Window
	Clipboard     string
	ScreenshotPNG []byte

	// FailOps maps an operation name (e.g. "list_windows") to the error
	// its next invocations should return.
	FailOps map[string]error

	// FailOnce maps an operation name to an error returned exactly once,
	// for fail-then-recover scenarios.
	FailOnce map[string]error
}

func NewStub() *Stub {
	return &Stub{
		ScreenshotPNG: []byte("png-bytes"),
		FailOps:       map[string]error{},
		FailOnce:      map[string]error{},
	}
}

// Calls returns the operations invoked so far, in order.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Stub) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)

	if err, ok := s.FailOnce[op]; ok {
		delete(s.FailOnce, op)
		return &Error{Op: op, Err: err}
	}
	if err, ok := s.FailOps[op]; ok {
		return &Error{Op: op, Err: err}
	}
	return nil
}

func (s *Stub) ListWindows(ctx context.Context, app string) ([]Window, error) {
	if err := s.record("list_windows"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Windows, nil
}

func (s *Stub) FocusWindow(ctx context.Context, handle int, titlePattern string) error {
	return s.record("focus_window")
}

func (s *Stub) Screenshot(ctx context.Context, handle int) ([]byte, error) {
	if err := s.record("screenshot"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ScreenshotPNG, nil
}

func (s *Stub) Keypress(ctx context.Context, chord string) error {
	return s.record("keypress:" + chord)
}

func (s *Stub) TextInput(ctx context.Context, text string) error {
	return s.record("text_input")
}

func (s *Stub) ClipboardGet(ctx context.Context) (string, error) {
	if err := s.record("clipboard_get"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Clipboard, nil
}

func (s *Stub) ClipboardSet(ctx context.Context, text string) error {
	if err := s.record("clipboard_set"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clipboard = text
	return nil
}

func (s *Stub) Close() error {
	return s.record("close")
}
