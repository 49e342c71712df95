package capability

import "context"

// Fallback is a no-op adapter for dry runs without a desktop provider.
// Reads return empty results and writes succeed silently, so a run
// exercises the full stage graph and records a failed-validation trace
// instead of crashing.
type Fallback struct{}

func NewFallback() *Fallback {
	return &Fallback{}
}

func (f *Fallback) ListWindows(ctx context.Context, app string) ([]Window, error) {
	return nil, nil
}

func (f *Fallback) FocusWindow(ctx context.Context, handle int, titlePattern string) error {
	return nil
}

func (f *Fallback) Screenshot(ctx context.Context, handle int) ([]byte, error) {
	return nil, nil
}

func (f *Fallback) Keypress(ctx context.Context, chord string) error {
	return nil
}

func (f *Fallback) TextInput(ctx context.Context, text string) error {
	return nil
}

func (f *Fallback) ClipboardGet(ctx context.Context) (string, error) {
	return "", nil
}

func (f *Fallback) ClipboardSet(ctx context.Context, text string) error {
	return nil
}

func (f *Fallback) Close() error {
	return nil
}
