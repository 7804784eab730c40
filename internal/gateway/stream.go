package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/suntec-core/internal/telemetry"
)

// StreamState is the lifecycle of a live subscription.
type StreamState int32

const (
	// StateConnecting is the first dial.
	StateConnecting StreamState = iota
	// StateOpen means the event stream is flowing.
	StateOpen
	// StateReconnecting follows a transport error, until the next dial succeeds.
	StateReconnecting
	// StateClosed is terminal and only reached through Close.
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("StreamState(%d)", int32(s))
	}
}

// maxEventSize bounds one SSE line.
const maxEventSize = 1 << 20

// Update is one message from the live channel: a reading, or an error
// event relayed by the gateway. Error events do not end the stream.
type Update struct {
	Reading telemetry.Reading
	Err     error
}

// StreamOption customises a Stream.
type StreamOption func(*Stream)

// WithStateHook calls fn on every state transition, from the stream's
// goroutine.
func WithStateHook(fn func(StreamState)) StreamOption {
	return func(s *Stream) { s.hook = fn }
}

// Stream is a live subscription to one device. It reconnects after
// transport errors until Close is called. Delivery is best effort.
type Stream struct {
	client   *Client
	deviceID string
	updates  chan Update
	hook     func(StreamState)
	state    atomic.Int32

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe opens the device's live channel. Updates are delivered on
// Updates until Close.
func (c *Client) Subscribe(ctx context.Context, deviceID string, opts ...StreamOption) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		client:   c,
		deviceID: deviceID,
		updates:  make(chan Update, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateConnecting))

	go s.run(ctx)
	return s
}

// Updates returns the update channel. It is closed after Close.
func (s *Stream) Updates() <-chan Update {
	return s.updates
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// Close stops the stream and waits for its goroutine. Safe to call more
// than once.
func (s *Stream) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

func (s *Stream) setState(st StreamState) {
	if StreamState(s.state.Swap(int32(st))) == st {
		return
	}
	if s.hook != nil {
		s.hook(st)
	}
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.updates)
	defer s.setState(StateClosed)

	log := s.client.logger.With("device_id", s.deviceID)
	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Debug("live channel dropped", "error", err)
		s.setState(StateReconnecting)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.client.delay):
		}
	}
}

// connect runs one connection until it fails or ctx ends.
func (s *Stream) connect(ctx context.Context) error {
	endpoint := s.client.base + "/devices/" + url.PathEscape(s.deviceID) + "/state/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	s.setState(StateOpen)

	err = readEvents(resp.Body, func(event, data string) {
		u, ok := decodeUpdate(event, data)
		if !ok {
			return
		}
		select {
		case s.updates <- u:
		case <-ctx.Done():
		}
	})
	if err == nil {
		err = io.EOF
	}
	return err
}

func decodeUpdate(event, data string) (Update, bool) {
	switch event {
	case "", "message":
		var r telemetry.Reading
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return Update{Err: fmt.Errorf("decoding reading: %w", err)}, true
		}
		return Update{Reading: r}, true
	case "error":
		var body errorBody
		if err := json.Unmarshal([]byte(data), &body); err != nil || body.Error == "" {
			body.Error = data
		}
		return Update{Err: errors.New(body.Error)}, true
	default:
		return Update{}, false
	}
}

// readEvents parses a text/event-stream body and calls fn once per
// dispatched event. Comment lines (keep-alives) are skipped. It returns
// nil at end of stream.
func readEvents(r io.Reader, fn func(event, data string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventSize)

	var (
		event string
		data  []string
	)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(data) > 0 {
				fn(event, strings.Join(data, "\n"))
			}
			event, data = "", data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	return sc.Err()
}
