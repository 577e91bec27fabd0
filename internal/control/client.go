// Package control implements the synchronous JSON request/response
// control channel to the board: one persistent TCP connection,
// written to and read from by the command thread only.
package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// replyBufferSize is the fixed size of the single read the protocol
// guarantees a reply fits within.
const replyBufferSize = 1024

// Severity classifies a feedback entry's type field.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// FeedbackEntry is one element of the board's reply "feedback" array.
type FeedbackEntry struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type feedbackReply struct {
	Feedback []FeedbackEntry `json:"feedback"`
}

// classify matches the entry's Type case-insensitively by substring
// against "error", "warning", "info", in that priority order (an
// entry whose type string is, e.g., "warning_error" classifies as
// error).
func classify(entryType string) Severity {
	lower := strings.ToLower(entryType)
	switch {
	case strings.Contains(lower, "error"):
		return SeverityError
	case strings.Contains(lower, "warning"):
		return SeverityWarning
	case strings.Contains(lower, "info"):
		return SeverityInfo
	default:
		return SeverityUnknown
	}
}

// ErrBoardReportedError is returned from Send when at least one
// feedback entry classified as an error; every entry has still been
// logged.
var ErrBoardReportedError = fmt.Errorf("control: board reported an error in its feedback")

// Client owns one TCP connection to the board's control endpoint,
// established at conf and touched only by the command thread.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	log  *slog.Logger
}

// Dial connects to the board's control endpoint.
func Dial(addr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: dial %s: %w", addr, err)
	}
	return &Client{conn: conn, log: logger.With("component", "control_client")}, nil
}

// Send writes message to the board and reads its reply, classifying
// every feedback entry and logging it through the configured logger
// with a correlation id shared by the whole exchange. It returns
// ErrBoardReportedError if any entry classified as an error.
func (c *Client) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	corrID := uuid.New().String()
	log := c.log.With("correlation_id", corrID)

	log.Info("control send", "message", message)

	if _, err := c.conn.Write([]byte(message)); err != nil {
		return fmt.Errorf("control: write: %w", err)
	}

	buf := make([]byte, replyBufferSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("control: read: %w", err)
	}

	var reply feedbackReply
	if err := json.Unmarshal(buf[:n], &reply); err != nil {
		return fmt.Errorf("control: parse reply: %w", err)
	}

	sawError := false
	for _, entry := range reply.Feedback {
		sev := classify(entry.Type)
		switch sev {
		case SeverityError:
			sawError = true
			log.Error("board feedback", "type", entry.Type, "message", entry.Message)
		case SeverityWarning:
			log.Warn("board feedback", "type", entry.Type, "message", entry.Message)
		case SeverityInfo:
			log.Info("board feedback", "type", entry.Type, "message", entry.Message)
		default:
			log.Info("board feedback (unclassified)", "type", entry.Type, "message", entry.Message)
		}
	}

	if sawError {
		return ErrBoardReportedError
	}
	return nil
}

// SendStartRun sends the literal StartRun command.
func (c *Client) SendStartRun() error {
	return c.Send(`{"command":"StartRun"}`)
}

// SendStopRun sends the literal StopRun command.
func (c *Client) SendStopRun() error {
	return c.Send(`{"command":"StopRun"}`)
}

// SendHardReset sends the literal HardReset command.
func (c *Client) SendHardReset() error {
	return c.Send(`{"command":"HardReset"}`)
}

// SendConfig sends a raw JSON configuration blob as-is.
func (c *Client) SendConfig(blob []byte) error {
	return c.Send(string(blob))
}

// Close closes the underlying connection. Safe to call more than
// once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
