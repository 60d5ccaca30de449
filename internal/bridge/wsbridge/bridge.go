// Package wsbridge streams registry snapshots to websocket observers.
// It republishes content changes as JSON frames; it renders nothing and
// exposes none of the providers' own method surfaces.
package wsbridge

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/strobelight/beacon/errs"
	"github.com/strobelight/beacon/internal/discovery"
	"github.com/strobelight/beacon/internal/observability"
	"github.com/strobelight/beacon/internal/schema"
)

const (
	writeTimeout      = 5 * time.Second
	clientFrameBuffer = 8
)

// Frame is the JSON message pushed to observers on every content change.
// Handles are capability objects and never cross the bridge; only the
// display metadata does.
type Frame struct {
	Type      string                `json:"type"`
	Version   uint64                `json:"version"`
	Providers []schema.ProviderInfo `json:"providers"`
}

// EncodeSnapshot builds the JSON frame for a snapshot.
func EncodeSnapshot(version uint64, records []schema.ProviderRecord) ([]byte, error) {
	infos := make([]schema.ProviderInfo, 0, len(records))
	for _, record := range records {
		infos = append(infos, record.Info)
	}
	frame := Frame{Type: "snapshot", Version: version, Providers: infos}
	payload, err := json.Marshal(frame)
	if err != nil {
		return nil, errs.New("wsbridge/encode", errs.CodeInvalid,
			errs.WithMessage("marshal snapshot frame"), errs.WithCause(err))
	}
	return payload, nil
}

// Config configures the bridge server.
type Config struct {
	ListenAddr string
}

func (c Config) normalize() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8791"
	}
	return c
}

// Server accepts websocket observers and pushes snapshot frames.
type Server struct {
	cfg     Config
	service *discovery.Service

	httpServer  *http.Server
	listener    net.Listener
	unsubscribe func()

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	frames chan []byte
}

// NewServer constructs a bridge for the given discovery service.
func NewServer(service *discovery.Service, cfg Config) (*Server, error) {
	if service == nil {
		return nil, errs.New("wsbridge/new", errs.CodeInvalid, errs.WithMessage("discovery service required"))
	}
	return &Server{
		cfg:     cfg.normalize(),
		service: service,
		clients: make(map[*client]struct{}),
	}, nil
}

// Start binds the listen address, subscribes to registry changes and begins
// serving. The returned error covers bind failures only; serve errors after
// a clean Shutdown are swallowed.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return errs.New("wsbridge/start", errs.CodeUnavailable,
			errs.WithMessage("bind listen address"), errs.WithCause(err))
	}
	s.listener = listener

	unsubscribe, err := s.service.Subscribe(ctx, s.fanout)
	if err != nil {
		_ = listener.Close()
		return err
	}
	s.unsubscribe = unsubscribe

	mux := http.NewServeMux()
	mux.HandleFunc("/watch", s.handleWatch)
	s.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			observability.Log().Error("bridge serve", observability.F("error", serveErr))
		}
	}()
	return nil
}

// Addr reports the bound address, useful when configured with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops serving and detaches from the discovery service.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.frames)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// fanout is the discovery change callback: encode once, push to everyone.
// The version arrives with the change so the frame header always matches
// the provider list it carries.
func (s *Server) fanout(records []schema.ProviderRecord, version uint64) {
	payload, err := EncodeSnapshot(version, records)
	if err != nil {
		observability.Log().Error("bridge encode", observability.F("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for c := range s.clients {
		select {
		case c.frames <- payload:
		default:
			// Slow observer; it will resync from the next frame.
		}
	}
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observability.Log().Debug("bridge accept", observability.F("error", err))
		return
	}

	c := &client{frames: make(chan []byte, clientFrameBuffer)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "bridge shutting down")
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[c]; ok {
			delete(s.clients, c)
			close(c.frames)
		}
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Initial frame so observers see the current set without waiting for a
	// change.
	records, version := s.service.SnapshotVersion()
	initial, err := EncodeSnapshot(version, records)
	if err == nil {
		if writeErr := s.write(r.Context(), conn, initial); writeErr != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-c.frames:
			if !ok {
				return
			}
			if err := s.write(r.Context(), conn, payload); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}
