package lobby

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/util"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	outboxSize   = 64
	maxFrameSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type metrics struct {
	requests *prometheus.CounterVec
	signals  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, dir *Directory) *metrics {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshlobby",
			Name:      "requests_total",
			Help:      "Lobby requests by type and outcome.",
		}, []string{"type", "result"}),
		signals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshlobby",
			Name:      "signals_relayed_total",
			Help:      "Link signaling messages relayed between members.",
		}),
	}
	reg.MustRegister(
		m.requests,
		m.signals,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "meshlobby",
			Name:      "lobbies",
			Help:      "Open lobbies.",
		}, func() float64 { return float64(dir.Lobbies()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "meshlobby",
			Name:      "peers",
			Help:      "Connected peers.",
		}, func() float64 { return float64(dir.Peers()) }),
	)
	return m
}

// Server serves the lobby protocol on /ws and Prometheus metrics on
// metricsPath, /metrics by default.
type Server struct {
	dir     *Directory
	reg     *prometheus.Registry
	metrics *metrics
	mux     *http.ServeMux
}

func NewServer(dir *Directory, metricsPath string) *Server {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	reg := prometheus.NewRegistry()
	s := &Server{
		dir:     dir,
		reg:     reg,
		metrics: newMetrics(reg, dir),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.Handle(metricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Registry exposes the server's metrics registry.
func (s *Server) Registry() *prometheus.Registry { return s.reg }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogDebug("websocket upgrade failed: %v", err)
		return
	}

	pc := &peerConn{conn: conn, out: make(chan Message, outboxSize), done: make(chan struct{})}
	pc.id = s.dir.Register(pc)
	util.LogDebug("peer %s connected from %s", pc.id, r.RemoteAddr)

	go pc.writeLoop()
	pc.send(Message{Type: MsgHello, Peer: pc.id})

	s.readLoop(pc)

	s.dir.Unregister(pc.id)
	pc.close()
	util.LogDebug("peer %s disconnected", pc.id)
}

func (s *Server) readLoop(pc *peerConn) {
	pc.conn.SetReadLimit(maxFrameSize)
	pc.conn.SetReadDeadline(time.Now().Add(pongWait))
	pc.conn.SetPongHandler(func(string) error {
		return pc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := pc.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("peer %s read: %v", pc.id, err)
			}
			return
		}
		pc.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(pc, msg)
	}
}

func (s *Server) handle(pc *peerConn, msg Message) {
	switch msg.Type {
	case MsgCreate:
		info, err := s.dir.Create(pc.id, msg.Name, msg.Max, msg.Data)
		s.reply(pc, msg, info, err)

	case MsgJoin:
		info, err := s.dir.Join(pc.id, msg.Lobby)
		s.reply(pc, msg, info, err)

	case MsgLeave:
		s.dir.LeaveLobby(pc.id, msg.Lobby)
		s.metrics.requests.WithLabelValues(string(msg.Type), "ok").Inc()
		if msg.Req != "" {
			pc.send(Message{Type: MsgResult, Req: msg.Req})
		}

	case MsgSignal:
		if msg.Signal == nil {
			return
		}
		sig := *msg.Signal
		sig.From = pc.id
		if err := s.dir.Relay(sig); err != nil {
			util.LogDebug("signal %s from %s to %s dropped: %v", sig.Kind, sig.From, sig.To, err)
			return
		}
		s.metrics.signals.Inc()

	default:
		util.LogWarning("unknown message type %q from %s", msg.Type, pc.id)
	}
}

func (s *Server) reply(pc *peerConn, req Message, info session.LobbyInfo, err error) {
	res := Message{Type: MsgResult, Req: req.Req}
	if err != nil {
		res.Code = codeOf(err)
		res.Error = err.Error()
		s.metrics.requests.WithLabelValues(string(req.Type), res.Code).Inc()
	} else {
		res.Info = infoFrom(info)
		s.metrics.requests.WithLabelValues(string(req.Type), "ok").Inc()
	}
	pc.send(res)
}

// peerConn is the server side of one peer's WebSocket. It implements
// Endpoint; every outgoing message goes through a single writer goroutine.
type peerConn struct {
	id   session.PeerID
	conn *websocket.Conn
	out  chan Message

	once sync.Once
	done chan struct{}
}

func (p *peerConn) MemberJoined(lobby session.LobbyID, peer session.PeerID) {
	p.send(Message{Type: MsgMemberJoined, Lobby: lobby, Peer: peer})
}

func (p *peerConn) MemberLeft(lobby session.LobbyID, peer session.PeerID) {
	p.send(Message{Type: MsgMemberLeft, Lobby: lobby, Peer: peer})
}

func (p *peerConn) OwnerChanged(lobby session.LobbyID, owner session.PeerID) {
	p.send(Message{Type: MsgOwnerChanged, Lobby: lobby, Peer: owner})
}

func (p *peerConn) Signal(sig Signal) {
	p.send(Message{Type: MsgSignal, Signal: &sig})
}

// send queues msg. A peer whose queue is full is too slow to keep and gets
// disconnected.
func (p *peerConn) send(msg Message) {
	select {
	case p.out <- msg:
	case <-p.done:
	default:
		util.LogWarning("peer %s outbox full, disconnecting", p.id)
		p.close()
	}
}

func (p *peerConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(msg); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *peerConn) close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}
