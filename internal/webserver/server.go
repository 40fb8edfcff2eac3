package webserver

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fwforge-io/fwforge/internal/bootpart"
	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/internal/update"
	"github.com/fwforge-io/fwforge/pkg/log"
	"github.com/fwforge-io/fwforge/pkg/options"
	"github.com/fwforge-io/fwforge/web"
)

// Server is the web front end: it dispatches requests to the update
// session manager, the boot partition controller and the embedded assets.
type Server struct {
	updates    *update.Manager
	boot       *bootpart.Controller
	partitions hal.PartitionTable

	// state reports the connectivity state, for status only.
	state func() string

	// requestRestart asks the daemon for an orderly restart. Called after
	// the response has been written.
	requestRestart func()

	network string
	router  *mux.Router
	http    *http.Server
}

// Deps are the collaborators the server dispatches to.
type Deps struct {
	Updates        *update.Manager
	Boot           *bootpart.Controller
	Partitions     hal.PartitionTable
	State          func() string
	RequestRestart func()
}

// New creates the web server with its routes configured.
func New(opts *options.HttpOptions, deps Deps) *Server {
	s := &Server{
		updates:        deps.Updates,
		boot:           deps.Boot,
		partitions:     deps.Partitions,
		state:          deps.State,
		requestRestart: deps.RequestRestart,
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/change-partition", s.handleChangePartition).Methods(http.MethodGet)
	r.HandleFunc("/upload.html", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/partition-size", s.handlePartitionSize).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/").HandlerFunc(s.handleAsset)

	s.network = opts.Network
	s.router = r
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}

	return s
}

// Handler exposes the routing for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen(s.network, s.http.Addr)
	if err != nil {
		return err
	}

	log.Info("Web server listening", "network", s.network, "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// handleIndex redirects to the asset index.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/index.html", http.StatusFound)
}

// handleAsset serves the embedded front end files. Every unmatched path is
// redirected to the root, which keeps captive portal probes inside the
// portal.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}

	if r.Method != http.MethodGet {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	if _, err := fs.Stat(web.Files, name); err != nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	http.FileServer(http.FS(web.Files)).ServeHTTP(w, r)
}
