package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notargets/CPTrack/protocol"
)

const (
	rankHeader = "X-Cptrack-Rank"
	wsPath     = "/cptrack"
)

// DialRetry is the pause between connection attempts while peers start
var DialRetry = 100 * time.Millisecond

// peerConn is one websocket connection. Writes are serialized by mu, the
// connection has a single reader goroutine.
type peerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (pc *peerConn) write(ctx context.Context, p protocol.Packet) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = pc.conn.SetWriteDeadline(dl)
		defer pc.conn.SetWriteDeadline(time.Time{})
	}
	return pc.conn.WriteJSON(p)
}

// Websocket connects the block of one process to its peers. Every rank
// serves on its own address, dials the ranks below it and accepts the
// ranks above it, giving one connection per pair.
type Websocket struct {
	rank  int
	peers []string

	upgrader websocket.Upgrader
	server   *http.Server
	inbox    *mailbox

	mu    sync.Mutex
	conns map[int]*peerConn
	ready chan struct{}

	closing bool
	wg      sync.WaitGroup

	logger *slog.Logger
}

// NewWebsocket serves rank on ln and connects to every address in peers,
// indexed by rank. It returns once all peers are connected or ctx ends.
func NewWebsocket(ctx context.Context, ln net.Listener, rank int, peers []string, logger *slog.Logger) (*Websocket, error) {
	if rank < 0 || rank >= len(peers) {
		return nil, fmt.Errorf("rank %d outside peer list of %d", rank, len(peers))
	}
	if logger == nil {
		logger = slog.Default()
	}
	ws := &Websocket{
		rank:  rank,
		peers: peers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inbox:  newMailbox(),
		conns:  make(map[int]*peerConn),
		ready:  make(chan struct{}),
		logger: logger.With(slog.String("component", "transport"), slog.Int("block", rank)),
	}
	if len(peers) == 1 {
		close(ws.ready)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, ws.handleWebSocket)
	ws.server = &http.Server{Handler: mux}
	go func() {
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Error("websocket server stopped", slog.Any("error", err))
			ws.inbox.fail(err)
		}
	}()

	for to := 0; to < rank; to++ {
		if err := ws.dial(ctx, to); err != nil {
			ws.Close()
			return nil, err
		}
	}

	select {
	case <-ws.ready:
	case <-ctx.Done():
		ws.Close()
		return nil, fmt.Errorf("rank %d waiting for peers: %w", rank, ctx.Err())
	}
	ws.logger.Info("connected", slog.Int("peers", len(peers)-1))
	return ws, nil
}

// dial connects to a lower rank, retrying until it accepts or ctx ends
func (ws *Websocket) dial(ctx context.Context, to int) error {
	url := "ws://" + ws.peers[to] + wsPath
	header := http.Header{rankHeader: {strconv.Itoa(ws.rank)}}
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err == nil {
			ws.attach(to, conn)
			return nil
		}
		ws.logger.Debug("dial failed, retrying", slog.Int("to", to), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("rank %d dialing %s: %w", ws.rank, url, ctx.Err())
		case <-time.After(DialRetry):
		}
	}
}

func (ws *Websocket) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.Atoi(r.Header.Get(rankHeader))
	if err != nil || from <= ws.rank || from >= len(ws.peers) {
		http.Error(w, "invalid peer rank", http.StatusBadRequest)
		return
	}
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade error", slog.Any("error", err))
		return
	}
	ws.attach(from, conn)
}

func (ws *Websocket) attach(peer int, conn *websocket.Conn) {
	ws.mu.Lock()
	if old, ok := ws.conns[peer]; ok {
		old.conn.Close()
	}
	ws.conns[peer] = &peerConn{conn: conn}
	if len(ws.conns) == len(ws.peers)-1 {
		select {
		case <-ws.ready:
		default:
			close(ws.ready)
		}
	}
	ws.mu.Unlock()

	ws.wg.Add(1)
	go ws.readLoop(peer, conn)
}

func (ws *Websocket) readLoop(peer int, conn *websocket.Conn) {
	defer ws.wg.Done()
	for {
		var p protocol.Packet
		if err := conn.ReadJSON(&p); err != nil {
			ws.mu.Lock()
			closing := ws.closing
			ws.mu.Unlock()
			switch {
			case closing:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				ws.logger.Debug("peer closed", slog.Int("peer", peer))
			default:
				ws.logger.Error("websocket read error", slog.Int("peer", peer), slog.Any("error", err))
				ws.inbox.fail(fmt.Errorf("connection to rank %d: %w", peer, err))
			}
			return
		}
		p.From = peer
		if err := ws.inbox.put(p); err != nil {
			return
		}
	}
}

func (ws *Websocket) Rank() int { return ws.rank }

func (ws *Websocket) Size() int { return len(ws.peers) }

func (ws *Websocket) Send(ctx context.Context, to int, p protocol.Packet) error {
	p.From = ws.rank
	if to == ws.rank {
		return ws.inbox.put(p)
	}
	ws.mu.Lock()
	pc, ok := ws.conns[to]
	ws.mu.Unlock()
	if !ok {
		return fmt.Errorf("rank %d: no connection to rank %d", ws.rank, to)
	}
	if err := pc.write(ctx, p); err != nil {
		return fmt.Errorf("rank %d sending to %d: %w", ws.rank, to, err)
	}
	return nil
}

func (ws *Websocket) Recv(ctx context.Context) (protocol.Packet, error) {
	return ws.inbox.get(ctx)
}

func (ws *Websocket) TryRecv() (protocol.Packet, bool) {
	p, ok, _ := ws.inbox.tryGet()
	return p, ok
}

// Close shuts down the server and every peer connection
func (ws *Websocket) Close() error {
	ws.mu.Lock()
	if ws.closing {
		ws.mu.Unlock()
		return nil
	}
	ws.closing = true
	conns := make([]*peerConn, 0, len(ws.conns))
	for _, pc := range ws.conns {
		conns = append(conns, pc)
	}
	ws.mu.Unlock()

	err := ws.server.Close()
	for _, pc := range conns {
		pc.mu.Lock()
		_ = pc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		pc.conn.Close()
		pc.mu.Unlock()
	}
	ws.wg.Wait()
	ws.inbox.fail(ErrClosed)
	return err
}
