package api

import (
	"context"
	"encoding/json"

	"github.com/t-henke/glaskasten/internal/ops"
)

// Dispatcher executes named gateway operations. It never returns a Go error;
// failures are encoded in the envelope so the transport layer only has to
// pick a status code.
type Dispatcher interface {
	Handles(name string) bool
	Dispatch(ctx context.Context, name string, args json.RawMessage) ops.Envelope
}
