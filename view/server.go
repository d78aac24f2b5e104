// Package view serves the most recent frame over HTTP.
package view

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"image/png"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/edaniels/framegrab/sink"
)

//go:embed assets/index.html
var indexHTML string

var indexT = template.Must(template.New("index").Parse(indexHTML))

// ErrServerAlreadyStarted happens when the server has already been started.
var ErrServerAlreadyStarted = errors.New("already started")

// Metadata describes the frame being served.
type Metadata struct {
	ID     string    `json:"id"`
	Index  int       `json:"index"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Layout string    `json:"layout"`
	Time   time.Time `json:"time"`
	Min    uint16    `json:"min"`
	Max    uint16    `json:"max"`
	Mean   float64   `json:"mean"`
}

// A Server is a display that serves the last frame shown to it.
type Server struct {
	mu                      sync.Mutex
	port                    int
	title                   string
	listener                net.Listener
	httpServer              *http.Server
	started                 bool
	png                     []byte
	meta                    *Metadata
	logger                  golog.Logger
	activeBackgroundWorkers sync.WaitGroup
}

// NewServer returns a server that will listen on localhost at port. Port 0 picks a free port.
func NewServer(port int, title string, logger golog.Logger) *Server {
	return &Server{port: port, title: title, logger: logger.Named("view")}
}

// Name returns "viewer".
func (s *Server) Name() string {
	return "viewer"
}

// Show encodes the frame and makes it the one served.
func (s *Server) Show(ctx context.Context, f sink.Frame) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, sink.Preview(f.Image, 0, 32)); err != nil {
		return err
	}
	stats, err := sink.Measure(f)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.png = buf.Bytes()
	s.meta = &Metadata{
		ID:     f.ID,
		Index:  f.Index,
		Width:  f.Width,
		Height: f.Height,
		Layout: string(f.Layout),
		Time:   f.Time,
		Min:    stats.Min,
		Max:    stats.Max,
		Mean:   stats.Mean,
	}
	return nil
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), s.serveIndex)
	mux.HandleFunc(pat.Get("/frame.png"), s.serveFrame)
	mux.HandleFunc(pat.Get("/frame.json"), s.serveMetadata)
	return mux
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexT.Execute(w, struct {
		Title         string
		RefreshMillis int
	}{s.title, 500}); err != nil {
		s.logger.Errorw("error rendering index", "error", err)
	}
}

func (s *Server) serveFrame(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data := s.png
	s.mu.Unlock()
	if data == nil {
		http.Error(w, "no frame available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		s.logger.Debugw("error writing frame", "error", err)
	}
}

func (s *Server) serveMetadata(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	meta := s.meta
	s.mu.Unlock()
	if meta == nil {
		http.Error(w, "no frame available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(meta); err != nil {
		s.logger.Debugw("error writing metadata", "error", err)
	}
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrServerAlreadyStarted
	}

	listener, secure, err := utils.NewPossiblySecureTCPListenerFromFile(fmt.Sprintf("localhost:%d", s.port), "", "")
	if err != nil {
		return err
	}
	httpServer, err := utils.NewPlainTextHTTP2Server(s.Handler())
	if err != nil {
		return multierr.Combine(err, listener.Close())
	}
	httpServer.Addr = listener.Addr().String()
	s.listener = listener
	s.httpServer = httpServer
	s.started = true

	scheme := "http"
	if secure {
		scheme = "https"
	}
	s.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		s.logger.Infow("serving", "url", fmt.Sprintf("%s://%s", scheme, httpServer.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("error serving", "error", err)
		}
	})
	return nil
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	httpServer := s.httpServer
	s.mu.Unlock()

	defer s.activeBackgroundWorkers.Wait()
	return httpServer.Shutdown(ctx)
}
