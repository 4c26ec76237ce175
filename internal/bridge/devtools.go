package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport executes one inspector-protocol call against the target process.
type Transport interface {
	Call(ctx context.Context, method string, params any, out any) error
	Close() error
}

// DevtoolsConn is a websocket client for the DevTools wire protocol exposed
// by the target's inspector endpoint. Requests and responses are correlated
// by numeric id; unsolicited protocol events are discarded. A single reader
// goroutine owns the socket's read side.
type DevtoolsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan callResult
	closed  bool
}

type wireRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type wireResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Dial connects to the inspector websocket endpoint of the target process.
func Dial(ctx context.Context, wsURL string) (*DevtoolsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial inspector endpoint %q: %w", wsURL, err)
	}

	dc := &DevtoolsConn{
		conn:    conn,
		pending: make(map[int64]chan callResult),
	}
	go dc.readLoop()
	return dc, nil
}

// Call issues one protocol request and decodes its result into out.
// After the channel has failed once, every subsequent call returns
// ErrChannelClosed immediately.
func (dc *DevtoolsConn) Call(ctx context.Context, method string, params any, out any) error {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		rawParams = encoded
	}

	dc.mu.Lock()
	if dc.closed {
		dc.mu.Unlock()
		return ErrChannelClosed
	}
	dc.nextID++
	id := dc.nextID
	resultCh := make(chan callResult, 1)
	dc.pending[id] = resultCh
	dc.mu.Unlock()

	request := wireRequest{ID: id, Method: method, Params: rawParams}

	dc.writeMu.Lock()
	err := dc.conn.WriteJSON(request)
	dc.writeMu.Unlock()
	if err != nil {
		dc.abandon(id)
		dc.fail()
		return ErrChannelClosed
	}

	select {
	case <-ctx.Done():
		dc.abandon(id)
		return ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return res.err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(res.result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

// Close tears down the websocket. In-flight calls fail with ErrChannelClosed.
func (dc *DevtoolsConn) Close() error {
	dc.fail()
	return dc.conn.Close()
}

func (dc *DevtoolsConn) readLoop() {
	for {
		_, payload, err := dc.conn.ReadMessage()
		if err != nil {
			dc.fail()
			return
		}

		var response wireResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}
		if response.ID == 0 {
			// Protocol event, not a call response.
			continue
		}

		dc.mu.Lock()
		resultCh, ok := dc.pending[response.ID]
		delete(dc.pending, response.ID)
		dc.mu.Unlock()
		if !ok {
			continue
		}

		if response.Error != nil {
			resultCh <- callResult{err: fmt.Errorf("inspector error %d: %s", response.Error.Code, response.Error.Message)}
			continue
		}
		resultCh <- callResult{result: response.Result}
	}
}

func (dc *DevtoolsConn) abandon(id int64) {
	dc.mu.Lock()
	delete(dc.pending, id)
	dc.mu.Unlock()
}

// fail marks the channel closed and releases every pending caller.
func (dc *DevtoolsConn) fail() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.closed {
		return
	}
	dc.closed = true
	for id, resultCh := range dc.pending {
		resultCh <- callResult{err: ErrChannelClosed}
		delete(dc.pending, id)
	}
}

var _ Transport = (*DevtoolsConn)(nil)
