package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/skyblockd/skyblockd/internal/domain"
	"github.com/skyblockd/skyblockd/internal/query"
	"github.com/skyblockd/skyblockd/internal/store"
)

// KeyValidator validates an API credential against the upstream.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) (bool, error)
}

// PlayerDirectory resolves player identities by uuid or username.
type PlayerDirectory interface {
	ByUUID(ctx context.Context, uuid string, force bool) (domain.Player, error)
	ByName(ctx context.Context, name string, force bool) (domain.Player, error)
}

// Settings are the protocol timing parameters advertised to clients.
type Settings struct {
	HeartbeatInterval time.Duration
	IdentifyTimeout   time.Duration
}

// Gateway upgrades physical connections and runs the session protocol
// over them.
type Gateway struct {
	repo     store.Repository
	keys     KeyValidator
	players  PlayerDirectory
	decoder  domain.Decoder
	table    *Table
	settings Settings

	allowedOrigin string
	isDev         bool
}

// New creates a gateway serving sessions out of the given table.
func New(repo store.Repository, keys KeyValidator, players PlayerDirectory, decoder domain.Decoder, table *Table, settings Settings, allowedOrigin string, isDev bool) *Gateway {
	return &Gateway{
		repo:          repo,
		keys:          keys,
		players:       players,
		decoder:       decoder,
		table:         table,
		settings:      settings,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsConn adapts coder/websocket to the Conn interface.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

func (c *wsConn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// ServeHTTP implements http.Handler for the WebSocket upgrade. A client
// presenting session_id and seq query parameters requests a resume;
// their absence triggers the fresh identify flow.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	conn := &wsConn{ws: ws}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "connection ended")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan Envelope, 8)
	go g.readLoop(ctx, ws, conn, inbound)

	var sess *Session
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		lastSeq, err := strconv.Atoi(r.URL.Query().Get("seq"))
		if err != nil {
			_ = conn.Close(CloseResumeFailed, "Invalid Sequence Number")
			return
		}
		sess = g.resume(ctx, conn, sid, lastSeq)
	} else {
		sess = g.identify(ctx, conn, inbound)
	}
	if sess == nil {
		return
	}

	// A disconnect after handshake detaches the session rather than
	// deleting it: the buffer stays intact and the removal timer decides
	// its fate.
	defer func() {
		sess.Unbind(conn)
		g.table.StartRemoval(sess.ID)
		slog.Info("Session detached", "session_id", sess.ID)
	}()

	g.activeLoop(ctx, sess, conn, inbound)
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || g.allowedOrigin == "*" {
		return true
	}
	if origin == g.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", g.allowedOrigin)
	return false
}

// readLoop turns raw frames into validated envelopes on the inbound
// channel. A malformed frame is a terminal protocol violation.
func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, conn Conn, inbound chan<- Envelope) {
	defer close(inbound)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client")
			}
			return
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			slog.Debug("Invalid message", "error", err)
			_ = conn.Close(CloseInvalidMessage, "Invalid Data")
			return
		}

		select {
		case inbound <- env:
		case <-ctx.Done():
			return
		}
	}
}

// identify runs the fresh-session handshake: Metadata out, then a bounded
// wait for Identify, then validation of uuid, username, their
// cross-match, and the supplied credential, strictly in that order. Any
// failure closes the connection; no session is created.
func (g *Gateway) identify(ctx context.Context, conn Conn, inbound <-chan Envelope) *Session {
	if err := g.sendMetadata(ctx, conn); err != nil {
		return nil
	}

	deadline := time.NewTimer(g.settings.IdentifyTimeout)
	defer deadline.Stop()

	var payload IdentifyPayload
wait:
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			_ = conn.Close(CloseInvalidIdentify, "No Identify received in time")
			return nil
		case env, ok := <-inbound:
			if !ok {
				return nil
			}
			switch env.Op {
			case OpHeartbeat:
				continue
			case OpIdentify:
				if err := json.Unmarshal(env.Data, &payload); err != nil {
					_ = conn.Close(CloseInvalidMessage, "Invalid Data")
					return nil
				}
				break wait
			default:
				_ = conn.Close(CloseInvalidIdentify, "Expected Identify")
				return nil
			}
		}
	}

	byUUID, err := g.players.ByUUID(ctx, payload.UUID, true)
	if err != nil {
		_ = conn.Close(CloseInvalidIdentify, "Invalid UUID")
		return nil
	}
	byName, err := g.players.ByName(ctx, payload.Username, true)
	if err != nil {
		_ = conn.Close(CloseInvalidIdentify, "Invalid Username")
		return nil
	}
	if byUUID.UUID != byName.UUID {
		_ = conn.Close(CloseInvalidIdentify, "Username and UUID do not match")
		return nil
	}
	valid, err := g.keys.ValidateKey(ctx, payload.APIKey)
	if err != nil || !valid {
		_ = conn.Close(CloseInvalidIdentify, "Invalid API Key")
		return nil
	}

	sess := NewSession(uuid.NewString(), Identity{
		UUID:     byUUID.UUID,
		Username: byUUID.Username,
		APIKey:   payload.APIKey,
	})
	sess.TryBind(conn)
	g.table.Add(sess)

	if err := g.sendSessionCreate(ctx, sess); err != nil {
		slog.Debug("SessionCreate send failed", "session_id", sess.ID, "error", err)
	}
	return sess
}

// resume re-establishes a detached session over a new physical
// connection. Validation runs before any other protocol step: the session
// must exist, must not be bound elsewhere, and lastSeq must not exceed
// the current sequence. Claim cancels the removal timer atomically with
// the lookup, so an expiry can never race a successful resume.
func (g *Gateway) resume(ctx context.Context, conn Conn, sessionID string, lastSeq int) *Session {
	sess := g.table.Claim(sessionID)
	if sess == nil {
		_ = conn.Close(CloseResumeFailed, "Invalid Session")
		return nil
	}
	if sess.Bound() {
		_ = conn.Close(CloseResumeFailed, "Session Active Elsewhere")
		return nil
	}
	if lastSeq < 0 || lastSeq > sess.Seq() {
		// The claim cancelled the removal timer; a rejected resume leaves
		// the session detached, so the timer must be re-armed.
		g.table.StartRemoval(sess.ID)
		_ = conn.Close(CloseResumeFailed, "Invalid Sequence Number")
		return nil
	}
	if !sess.TryBind(conn) {
		_ = conn.Close(CloseResumeFailed, "Session Active Elsewhere")
		return nil
	}

	if err := g.sendMetadata(ctx, conn); err != nil {
		g.replayFailed(sess, conn)
		return nil
	}

	for _, frame := range sess.BufferedAfter(lastSeq) {
		if err := conn.Send(ctx, frame); err != nil {
			g.replayFailed(sess, conn)
			return nil
		}
	}
	sess.ClearBuffer()

	if err := g.sendSessionCreate(ctx, sess); err != nil {
		slog.Debug("SessionCreate send failed", "session_id", sess.ID, "error", err)
	}
	slog.Info("Session resumed", "session_id", sess.ID, "last_seq", lastSeq)
	return sess
}

// replayFailed closes the connection but leaves the session detached for
// a later resume attempt.
func (g *Gateway) replayFailed(sess *Session, conn Conn) {
	sess.Unbind(conn)
	_ = conn.Close(CloseResumeFailed, "Failed to replay missed messages")
	g.table.StartRemoval(sess.ID)
}

// activeLoop supervises an active session: heartbeats must arrive within
// 1.5x the advertised interval, and RequestAuctions queries are answered
// with buffered Auctions messages.
func (g *Gateway) activeLoop(ctx context.Context, sess *Session, conn Conn, inbound <-chan Envelope) {
	bound := g.settings.HeartbeatInterval + g.settings.HeartbeatInterval/2
	supervisor := time.NewTimer(bound)
	defer supervisor.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-supervisor.C:
			_ = conn.Close(CloseHeartbeatFailed, "Failed to heartbeat within 1.5x the heartbeat interval")
			return
		case env, ok := <-inbound:
			if !ok {
				// Physical disconnect; the caller handles detachment.
				return
			}
			switch env.Op {
			case OpHeartbeat:
				if !supervisor.Stop() {
					select {
					case <-supervisor.C:
					default:
					}
				}
				supervisor.Reset(bound)
			case OpRequestAuctions:
				var p RequestAuctionsPayload
				if err := json.Unmarshal(env.Data, &p); err != nil {
					_ = conn.Close(CloseInvalidMessage, "Invalid Data")
					return
				}
				if err := g.handleRequestAuctions(ctx, sess, p); err != nil {
					slog.Warn("Auctions response send failed", "session_id", sess.ID, "error", err)
					return
				}
			case OpIdentify:
				_ = conn.Close(CloseInvalidMessage, "Already identified")
				return
			}
		}
	}
}

func (g *Gateway) handleRequestAuctions(ctx context.Context, sess *Session, p RequestAuctionsPayload) error {
	auctions, err := g.repo.List(ctx)
	if err != nil {
		slog.Error("Auction listing failed", "error", err)
		auctions = nil
	}

	filter := query.NormalizedFilter(p.Query, p.Category, p.Rarity, p.Type)
	results := query.Run(auctions, filter, query.ParseOrder(p.Order), query.Page{Start: p.Start, Amount: p.Amount})

	for _, a := range results {
		if _, err := a.Item(g.decoder); err != nil {
			slog.Debug("Item decode failed", "auction_id", a.ID, "error", err)
		}
	}

	frame, err := encodeMessage(OpAuctions, AuctionsPayload{
		Auctions: query.Projected(results, time.Now()),
	})
	if err != nil {
		return err
	}
	return sess.SendBuffered(ctx, frame)
}

func (g *Gateway) sendMetadata(ctx context.Context, conn Conn) error {
	frame, err := encodeMessage(OpMetadata, MetadataPayload{
		HeartbeatInterval: g.settings.HeartbeatInterval.Milliseconds(),
	})
	if err != nil {
		return err
	}
	// Metadata is connection-scoped, not session-scoped: it is re-sent on
	// every connect and never replayed.
	return conn.Send(ctx, frame)
}

func (g *Gateway) sendSessionCreate(ctx context.Context, sess *Session) error {
	frame, err := encodeMessage(OpSessionCreate, SessionCreatePayload{
		SessionID: sess.ID,
		Seq:       sess.Seq(),
	})
	if err != nil {
		return err
	}
	return sess.SendBuffered(ctx, frame)
}
