package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsPingInterval     = 30 * time.Second
	wsPongWait         = 75 * time.Second
	wsReadLimit        = 4 << 20
	logBuffer          = 256
)

// LogStreamer opens program log subscriptions.
type LogStreamer interface {
	SubscribeLogs(ctx context.Context, mentions address.Pubkey) (LogSubscription, error)
}

// LogSubscription delivers log notifications until closed. Notifications is
// closed when the subscription ends; Err then reports why.
type LogSubscription interface {
	Notifications() <-chan LogNotification
	Err() error
	Close() error
}

// WSClient opens logsSubscribe streams over a websocket.
type WSClient struct {
	url        string
	commitment Commitment
	logger     *zap.Logger
}

// NewWSClient creates a log streamer for the node's websocket endpoint.
func NewWSClient(url string, commitment Commitment, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{url: url, commitment: commitment, logger: logger.Named("ledger")}
}

// SubscribeLogs dials the node and subscribes to logs of transactions that
// mention the given account. Each subscription owns its connection.
func (c *WSClient) SubscribeLogs(ctx context.Context, mentions address.Pubkey) (LogSubscription, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to websocket: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": []string{mentions.String()}},
			map[string]interface{}{"commitment": c.commitment},
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send subscription request: %w", err)
	}

	var resp jsonRPCResponse
	_ = conn.SetReadDeadline(time.Now().Add(wsHandshakeTimeout))
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read subscription response: %w", err)
	}
	if resp.Error != nil {
		conn.Close()
		return nil, fmt.Errorf("logsSubscribe: %w", resp.Error)
	}
	var subID uint64
	if err := json.Unmarshal(resp.Result, &subID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("logsSubscribe: invalid subscription id: %w", err)
	}

	sub := &wsLogSubscription{
		conn:   conn,
		id:     subID,
		notes:  make(chan LogNotification, logBuffer),
		done:   make(chan struct{}),
		logger: c.logger.With(zap.Uint64("subscription", subID), zap.Stringer("mentions", mentions)),
	}
	c.logger.Info("subscribed to program logs",
		zap.Stringer("mentions", mentions),
		zap.Uint64("subscription", subID))

	go sub.readLoop(ctx)
	go sub.pingLoop()
	return sub, nil
}

type wsLogSubscription struct {
	conn   *websocket.Conn
	id     uint64
	notes  chan LogNotification
	done   chan struct{}
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func (s *wsLogSubscription) Notifications() <-chan LogNotification {
	return s.notes
}

func (s *wsLogSubscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close unsubscribes and closes the connection.
func (s *wsLogSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = s.conn.WriteJSON(jsonRPCRequest{
			JSONRPC: "2.0",
			ID:      2,
			Method:  "logsUnsubscribe",
			Params:  []interface{}{s.id},
		})
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsLogSubscription) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *wsLogSubscription) readLoop(ctx context.Context) {
	defer close(s.notes)

	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("log stream read failed", zap.Error(err))
				}
				s.setErr(fmt.Errorf("log stream: %w", err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var note logsNotification
		if err := json.Unmarshal(raw, &note); err != nil {
			s.logger.Debug("ignoring undecodable message", zap.Error(err))
			continue
		}
		if note.Method != "logsNotification" || note.Params.Subscription != s.id {
			continue
		}

		v := note.Params.Result.Value
		select {
		case s.notes <- LogNotification{
			Slot:      note.Params.Result.Context.Slot,
			Signature: v.Signature,
			Err:       v.Err,
			Logs:      v.Logs,
		}:
		case <-s.done:
			return
		}
	}
}

func (s *wsLogSubscription) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
