// Package protocol defines the JSON-line message types exchanged between
// the gateway and the evaluator harness inside session containers.
package protocol

// EvaluatorPort is the fixed in-container TCP port the evaluator listens on.
// The runtime maps it to a random host port at container creation.
const EvaluatorPort = 6311

// Request is the envelope sent from gateway → evaluator. One request per
// line; the evaluator answers with exactly one Response line.
type Request struct {
	ID   string      `json:"id"`
	Type RequestType `json:"type"`

	// Eval fields
	Code           string `json:"code,omitempty"`
	TimeoutMs      int    `json:"timeout_ms,omitempty"`
	MaxOutputBytes int64  `json:"max_output_bytes,omitempty"`
}

type RequestType string

const (
	RequestEval RequestType = "eval"
	RequestPing RequestType = "ping"
)

// Response is the envelope sent from evaluator → gateway.
type Response struct {
	ID   string       `json:"id"`
	Type ResponseType `json:"type"`

	// Eval response fields. Status is 0 for a clean evaluation and 1 when
	// the submitted code raised; TimedOut marks a budget expiry (the
	// interpreter was interrupted and is back at its prompt).
	Output     string `json:"output,omitempty"`
	Result     string `json:"result,omitempty"`
	HasResult  bool   `json:"has_result,omitempty"`
	Status     int    `json:"status,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Error carries the interpreter's condition message on a status-1
	// eval, or the harness failure on a type-"error" response.
	Error string `json:"error,omitempty"`
}

type ResponseType string

const (
	ResponseEval  ResponseType = "eval"
	ResponsePong  ResponseType = "pong"
	ResponseError ResponseType = "error"
)

// MaxOutputBytes is the default cap on captured evaluation output.
const MaxOutputBytes = 5 * 1024 * 1024 // 5 MB

// DefaultEvalTimeoutMs is applied when a request carries no budget.
const DefaultEvalTimeoutMs = 30_000

// MaxLineBytes bounds a single protocol line in either direction, leaving
// headroom over MaxOutputBytes for JSON framing and escaping.
const MaxLineBytes = 2*MaxOutputBytes + 64*1024
