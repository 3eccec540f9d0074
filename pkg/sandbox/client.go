// Package sandbox is the client for the external Python analysis sandbox.
// The sandbox holds named in-memory tables and executes natural-language
// analysis against them; it is a singleton, single-writer resource, so
// callers serialize access through the single-flight turn processor.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Request/response message types on the wire.
const (
	typeLoadTable    = "load_table"
	typeTableSummary = "table_summary"
	typeRemoveTable  = "remove_table"
	typeRunAnalysis  = "run_analysis"
	typeProgress     = "progress"
)

// envelope is the framing for every sandbox message. Requests carry a
// fresh id; the matching response echoes it. Progress notifications have
// no id.
type envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var errClosed = errors.New("sandbox connection closed")

// Client talks to the sandbox over a single websocket connection and
// correlates asynchronous replies by request id.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan envelope

	tablesMu sync.RWMutex
	tables   map[string]TableSummary

	progress chan ProgressUpdate
	done     chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

// Dial connects to the sandbox at the given websocket URL.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing sandbox: %w", err)
	}

	c := &Client{
		conn:     conn,
		pending:  make(map[string]chan envelope),
		tables:   make(map[string]TableSummary),
		progress: make(chan ProgressUpdate, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()

	slog.Debug("Sandbox connection established", "url", url)
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			slog.Debug("Sandbox read loop terminated", "error", err)
			c.failPending()
			return
		}

		if env.Type == typeProgress {
			var update ProgressUpdate
			if err := json.Unmarshal(env.Payload, &update); err != nil {
				slog.Debug("Dropping malformed progress update", "error", err)
				continue
			}
			select {
			case c.progress <- update:
			default:
				// Progress is advisory, drop when nobody is listening.
			}
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[env.ID]
		if ok {
			delete(c.pending, env.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			slog.Debug("Dropping sandbox reply with unknown id", "id", env.ID, "type", env.Type)
			continue
		}
		ch <- env
	}
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// request sends one envelope and waits for the correlated reply.
func (c *Client) request(ctx context.Context, msgType string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", msgType, err)
	}

	env := envelope{
		ID:      uuid.New().String(),
		Type:    msgType,
		Payload: data,
	}

	reply := make(chan envelope, 1)
	c.pendingMu.Lock()
	c.pending[env.ID] = reply
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("sending %s request: %w", msgType, err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-reply:
		if !ok {
			return nil, errClosed
		}
		if resp.Error != "" {
			return nil, errors.New(resp.Error)
		}
		return resp.Payload, nil
	}
}

// LoadTable ships tabular text into the sandbox under name and records
// the summary the sandbox reports back.
func (c *Client) LoadTable(ctx context.Context, name, tabularText string) error {
	payload := struct {
		Name string `json:"name"`
		Data string `json:"data"`
	}{name, tabularText}

	raw, err := c.request(ctx, typeLoadTable, payload)
	if err != nil {
		return fmt.Errorf("loading table %q: %w", name, err)
	}

	var summary TableSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return fmt.Errorf("decoding summary for table %q: %w", name, err)
	}

	c.tablesMu.Lock()
	c.tables[name] = summary
	c.tablesMu.Unlock()

	slog.Debug("Table loaded into sandbox", "table", name, "rows", summary.RowCount)
	return nil
}

// GetTableSummary asks the sandbox for a fresh summary of name.
func (c *Client) GetTableSummary(ctx context.Context, name string) (*TableSummary, error) {
	payload := struct {
		Name string `json:"name"`
	}{name}

	raw, err := c.request(ctx, typeTableSummary, payload)
	if err != nil {
		return nil, fmt.Errorf("summarizing table %q: %w", name, err)
	}

	var summary TableSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("decoding summary for table %q: %w", name, err)
	}

	c.tablesMu.Lock()
	c.tables[name] = summary
	c.tablesMu.Unlock()
	return &summary, nil
}

// RemoveTable drops name from the sandbox and from the local registry.
func (c *Client) RemoveTable(ctx context.Context, name string) error {
	payload := struct {
		Name string `json:"name"`
	}{name}

	if _, err := c.request(ctx, typeRemoveTable, payload); err != nil {
		return fmt.Errorf("removing table %q: %w", name, err)
	}

	c.tablesMu.Lock()
	delete(c.tables, name)
	c.tablesMu.Unlock()
	return nil
}

// RunAnalysis executes one natural-language analysis over the named
// tables. The sandbox is a single shared execution context, callers must
// not run analyses concurrently.
func (c *Client) RunAnalysis(ctx context.Context, tableNames []string, question string) (*AnalysisResult, error) {
	payload := struct {
		TableNames []string `json:"tableNames"`
		Question   string   `json:"question"`
	}{tableNames, question}

	raw, err := c.request(ctx, typeRunAnalysis, payload)
	if err != nil {
		return nil, err
	}

	var result AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding analysis result: %w", err)
	}
	return &result, nil
}

// HasTable reports whether name was loaded through this client.
func (c *Client) HasTable(name string) bool {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()
	_, ok := c.tables[name]
	return ok
}

// Summaries returns the locally cached summary per loaded table.
func (c *Client) Summaries() map[string]TableSummary {
	c.tablesMu.RLock()
	defer c.tablesMu.RUnlock()

	out := make(map[string]TableSummary, len(c.tables))
	for name, summary := range c.tables {
		out[name] = summary
	}
	return out
}

// Progress exposes unsolicited progress notifications.
func (c *Client) Progress() <-chan ProgressUpdate {
	return c.progress
}

// Close tears down the connection and fails all in-flight requests.
func (c *Client) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	<-c.done
	return err
}
