package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/stagerun/internal/ctxlog"
	"github.com/specialistvlad/stagerun/internal/workflow"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names emitted by the Notifier.
const (
	EventRunStart      = "run_start"
	EventStageStart    = "stage_start"
	EventStageResolved = "stage_resolved"
	EventRunComplete   = "run_complete"
)

const defaultDialTimeout = 15 * time.Second

// Options configures Dial.
type Options struct {
	// Namespace is the socket.io namespace, "/" when empty.
	Namespace          string
	InsecureSkipVerify bool
	// Timeout bounds the connection handshake.
	Timeout time.Duration
}

// Notifier is a workflow.Observer that emits progress events to a socket.io
// server. Emits are fire-and-forget.
type Notifier struct {
	emit  func(event string, payload map[string]any)
	close func()
}

var _ workflow.Observer = (*Notifier)(nil)

// Dial connects to the socket.io server at rawURL and waits for the
// handshake.
func Dial(ctx context.Context, rawURL string, opts Options) (*Notifier, error) {
	logger := ctxlog.FromContext(ctx).With("notifier", "socketio", "url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notify URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("notify URL %q must be absolute", rawURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	sopts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		sopts.SetPath(parsedURL.Path)
	}
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Debug("Notifier connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, ok := firstError(errs)
		if !ok {
			err = errors.New("connect_error")
		}
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}

	return &Notifier{
		emit: func(event string, payload map[string]any) {
			io.Emit(event, payload)
		},
		close: func() {
			io.Disconnect()
		},
	}, nil
}

func firstError(args []any) (error, bool) {
	if len(args) == 0 {
		return nil, false
	}
	err, ok := args[0].(error)
	return err, ok
}

// Close disconnects from the server.
func (n *Notifier) Close() {
	if n.close != nil {
		n.close()
	}
}

func (n *Notifier) OnRunStart(_ context.Context, stages []string) {
	n.emit(EventRunStart, map[string]any{"stages": stages})
}

func (n *Notifier) OnStageStart(_ context.Context, stage string, reason workflow.Reason) {
	n.emit(EventStageStart, map[string]any{"stage": stage, "reason": string(reason)})
}

func (n *Notifier) OnStageResolved(_ context.Context, result workflow.StageResult, err error) {
	payload := map[string]any{
		"stage":       result.Stage,
		"resolution":  result.Resolution.String(),
		"reason":      string(result.Reason),
		"duration_ms": result.Duration.Milliseconds(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	n.emit(EventStageResolved, payload)
}

func (n *Notifier) OnRunComplete(_ context.Context, report *workflow.Report, err error) {
	payload := map[string]any{"success": err == nil}
	if report != nil {
		payload["ran"] = nonNil(report.Ran())
		payload["skipped"] = nonNil(report.Skipped())
		payload["downloaded"] = nonNil(report.Downloaded())
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	n.emit(EventRunComplete, payload)
}

// nonNil makes empty lists serialize as [] instead of null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
