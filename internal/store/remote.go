package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/mod/semver"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/retry"
)

// maxMessageSize bounds a single snapshot frame.
const maxMessageSize = 32 << 20

// RemoteConfig holds configuration for a Remote store.
type RemoteConfig struct {
	// URL of the server, e.g. http://localhost:8765
	URL string

	// HTTPClient is used for reads and writes (default: 10s timeout)
	HTTPClient *http.Client

	// Reconnect decides how long to wait between WebSocket reconnects
	Reconnect retry.Policy

	// Logger for connection activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultRemoteConfig returns sensible defaults for the given server URL.
func DefaultRemoteConfig(serverURL string) *RemoteConfig {
	return &RemoteConfig{
		URL:        serverURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Reconnect:  retry.DefaultBackoff(),
		Logger:     log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Remote is a Store backed by a running `nexus serve`. Writes and point
// reads go over HTTP; all subscriptions share one WebSocket that is
// re-established with backoff whenever it drops.
type Remote struct {
	base   *url.URL
	client *http.Client
	policy retry.Policy
	logger *log.Logger
	hub    *Hub

	connMu sync.RWMutex
	conn   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CheckProtocol verifies that a server protocol version is compatible.
func CheckProtocol(version string) error {
	if !semver.IsValid(version) {
		return fmt.Errorf("server reported invalid protocol version %q", version)
	}
	if semver.Major(version) != semver.Major(ProtocolVersion) {
		return fmt.Errorf("server protocol %s is incompatible with client protocol %s", version, ProtocolVersion)
	}
	return nil
}

// DialRemote checks the server's health and protocol version and starts
// the background subscription connection. It does not wait for the
// WebSocket; Connected reports false until it is up.
func DialRemote(ctx context.Context, config *RemoteConfig) (*Remote, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	base, err := url.Parse(strings.TrimRight(config.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https: %s", config.URL)
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	policy := config.Reconnect
	if policy == nil {
		policy = retry.DefaultBackoff()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &Remote{
		base:   base,
		client: client,
		policy: policy,
		logger: logger,
		ctx:    runCtx,
		cancel: cancel,
	}
	r.hub = NewHub(logger, r.sendUnsubscribe)

	health, err := r.Health(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := CheckProtocol(health.Protocol); err != nil {
		cancel()
		return nil, err
	}

	r.wg.Add(1)
	go r.run()

	return r, nil
}

// Health fetches the server's /health document.
func (r *Remote) Health(ctx context.Context) (*Health, error) {
	resp, err := r.do(ctx, http.MethodGet, r.endpoint("health"), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return &h, nil
}

// Connected reports whether the subscription connection is up.
func (r *Remote) Connected() bool {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	return r.conn != nil
}

// Close stops reconnecting, closes the connection and all subscriptions.
func (r *Remote) Close() error {
	r.cancel()

	r.connMu.Lock()
	if r.conn != nil {
		_ = r.conn.Close(websocket.StatusNormalClosure, "client closing")
		r.conn = nil
	}
	r.connMu.Unlock()

	r.wg.Wait()
	r.hub.Close()
	return nil
}

// Subscribe implements Store.
func (r *Remote) Subscribe(collection string, fn SnapshotFunc) Unsubscribe {
	if err := ValidateCollection(collection); err != nil {
		r.logger.Printf("Subscribe rejected: %v", err)
		return func() {}
	}
	unsub, first := r.hub.Subscribe(collection, fn)
	if first {
		r.send(Message{Type: MessageTypeSubscribe, Collection: collection})
	}
	return unsub
}

func (r *Remote) sendUnsubscribe(collection string) {
	r.send(Message{Type: MessageTypeUnsubscribe, Collection: collection})
}

// send writes msg on the live connection, if there is one. Subscriptions
// made while disconnected are sent on the next connect.
func (r *Remote) send(msg Message) {
	r.connMu.RLock()
	conn := r.conn
	r.connMu.RUnlock()
	if conn == nil {
		return
	}
	msg.Timestamp = time.Now()

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		r.logger.Printf("Failed to send %s for %s: %v", msg.Type, msg.Collection, err)
	}
}

// run keeps the subscription connection alive until Close.
func (r *Remote) run() {
	defer r.wg.Done()

	attempt := 0
	for {
		established, err := r.session()
		if r.ctx.Err() != nil {
			return
		}
		if established {
			attempt = 0
		}

		delay, ok := r.policy.Delay(attempt, err)
		if !ok {
			r.logger.Printf("Giving up reconnecting after %d attempts: %v", attempt, err)
			return
		}
		attempt++
		r.logger.Printf("Connection lost (%v), reconnecting in %v", err, delay.Round(time.Millisecond))
		if retry.Sleep(r.ctx, delay) != nil {
			return
		}
	}
}

// session runs one WebSocket connection from dial to disconnect.
func (r *Remote) session() (established bool, err error) {
	conn, _, err := websocket.Dial(r.ctx, r.wsURL(), nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	defer conn.CloseNow()

	var welcome Message
	if err := wsjson.Read(r.ctx, conn, &welcome); err != nil {
		return false, fmt.Errorf("failed to read welcome: %w", err)
	}
	if welcome.Type != MessageTypeWelcome {
		return false, fmt.Errorf("unexpected first message %q", welcome.Type)
	}
	var wd WelcomeData
	if err := json.Unmarshal(welcome.Data, &wd); err != nil {
		return false, fmt.Errorf("failed to decode welcome: %w", err)
	}
	if err := CheckProtocol(wd.Protocol); err != nil {
		return false, err
	}

	r.connMu.Lock()
	r.conn = conn
	r.connMu.Unlock()
	defer func() {
		r.connMu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.connMu.Unlock()
	}()

	r.logger.Printf("Connected to %s", r.base.Host)

	// Re-establish every active subscription
	for _, collection := range r.hub.Watched() {
		r.send(Message{Type: MessageTypeSubscribe, Collection: collection})
	}

	for {
		var msg Message
		if err := wsjson.Read(r.ctx, conn, &msg); err != nil {
			return true, err
		}
		r.handle(msg)
	}
}

func (r *Remote) handle(msg Message) {
	switch msg.Type {
	case MessageTypeSnapshot:
		var data SnapshotData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			r.logger.Printf("Failed to decode %s snapshot: %v", msg.Collection, err)
			return
		}
		if data.Documents == nil {
			data.Documents = []Document{}
		}
		r.hub.Publish(Snapshot{Collection: msg.Collection, Documents: data.Documents, At: msg.Timestamp})

	case MessageTypeError:
		var data ErrorData
		_ = json.Unmarshal(msg.Data, &data)
		r.logger.Printf("Server error for %s: %s", msg.Collection, data.Error)

	default:
		r.logger.Printf("Ignoring message type %q", msg.Type)
	}
}

func (r *Remote) wsURL() string {
	u := *r.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func (r *Remote) endpoint(parts ...string) string {
	u := *r.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (r *Remote) docURL(collection, id string) string {
	return r.endpoint("v1", "collections", collection, "docs", id)
}

func (r *Remote) do(ctx context.Context, method, target string, body []byte, header http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	var body ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return fmt.Errorf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return FromCode(body.Code, body.Error)
}

func decodeVersion(resp *http.Response) (int64, error) {
	var v VersionResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return 0, fmt.Errorf("failed to decode version: %w", err)
	}
	return v.Version, nil
}

// Get implements Store.
func (r *Remote) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ValidateKey(collection, id); err != nil {
		return nil, err
	}
	resp, err := r.do(ctx, http.MethodGet, r.docURL(collection, id), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return &doc, nil
}

// List implements Lister.
func (r *Remote) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	resp, err := r.do(ctx, http.MethodGet, r.endpoint("v1", "collections", collection), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	var data SnapshotData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode collection: %w", err)
	}
	return data.Documents, nil
}

// Upsert implements Store.
func (r *Remote) Upsert(ctx context.Context, collection, id string, data json.RawMessage) (int64, error) {
	if err := ValidateKey(collection, id); err != nil {
		return 0, err
	}
	if err := ValidateData(data); err != nil {
		return 0, err
	}
	resp, err := r.do(ctx, http.MethodPut, r.docURL(collection, id), data, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return decodeVersion(resp)
}

// Create implements Store.
func (r *Remote) Create(ctx context.Context, collection, id string, data json.RawMessage) error {
	if err := ValidateKey(collection, id); err != nil {
		return err
	}
	if err := ValidateData(data); err != nil {
		return err
	}
	resp, err := r.do(ctx, http.MethodPost, r.docURL(collection, id), data, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return decodeError(resp)
	}
	return nil
}

// UpdateFields implements Store.
func (r *Remote) UpdateFields(ctx context.Context, collection, id string, fields map[string]json.RawMessage, expectVersion int64) (int64, error) {
	if err := ValidateKey(collection, id); err != nil {
		return 0, err
	}
	for name := range fields {
		if err := ValidateField(name); err != nil {
			return 0, err
		}
	}
	body, err := json.Marshal(PatchRequest{Fields: fields})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	header := http.Header{}
	if expectVersion > 0 {
		header.Set("If-Match", strconv.FormatInt(expectVersion, 10))
	}

	resp, err := r.do(ctx, http.MethodPatch, r.docURL(collection, id), body, header)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return decodeVersion(resp)
}

// Delete implements Store.
func (r *Remote) Delete(ctx context.Context, collection, id string) error {
	if err := ValidateKey(collection, id); err != nil {
		return err
	}
	resp, err := r.do(ctx, http.MethodDelete, r.docURL(collection, id), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// IsDisconnected reports whether err means the server could not be reached.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
