package render

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
)

var (
	mediaName = regexp.MustCompile(`^holo-[A-Za-z0-9_-]+\.(mp4|mov|webm|mkv|png|jpe?g|gif|webp)$`)
	propsName = regexp.MustCompile(`^props-[A-Za-z0-9_-]+\.json$`)
)

// Servable reports whether name matches the endpoint's allow-list.
func Servable(name string) bool {
	return mediaName.MatchString(name) || propsName.MatchString(name)
}

// MediaServer serves allow-listed files from one directory on a loopback
// address for the duration of a render.
type MediaServer struct {
	dir  string
	srv  *http.Server
	base string
	done chan struct{}
}

// NewHandler returns the router serving dir. Exposed for tests and for
// the serve-media command.
func NewHandler(dir string) (http.Handler, error) {
	gz, err := gzhttp.NewWrapper(
		gzhttp.MinSize(512),
		gzhttp.ContentTypes([]string{"application/json"}),
	)
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/media/{name}", func(w http.ResponseWriter, req *http.Request) {
		serveFile(w, req, dir, chi.URLParam(req, "name"), mediaName)
	})
	r.Method(http.MethodGet, "/props/{name}", gz(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		serveFile(w, req, dir, chi.URLParam(req, "name"), propsName)
	})))
	return r, nil
}

func serveFile(w http.ResponseWriter, r *http.Request, dir, name string, allow *regexp.Regexp) {
	if !allow.MatchString(name) {
		log.Warn().Str("name", name).Msg("Rejected media request outside allow-list")
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

// StartMediaServer listens on bindIP with an ephemeral port.
func StartMediaServer(dir, bindIP string) (*MediaServer, error) {
	if bindIP == "" {
		bindIP = "127.0.0.1"
	}
	h, err := NewHandler(dir)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(bindIP, "0"))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	m := &MediaServer{
		dir:  dir,
		srv:  &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second},
		base: "http://" + ln.Addr().String(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Media server stopped")
		}
	}()
	log.Debug().Str("addr", m.base).Str("dir", dir).Msg("Media server started")
	return m, nil
}

// URL returns the address of a served file.
func (m *MediaServer) URL(name string) (string, error) {
	switch {
	case mediaName.MatchString(name):
		return m.base + "/media/" + name, nil
	case propsName.MatchString(name):
		return m.base + "/props/" + name, nil
	}
	return "", fmt.Errorf("%q is not servable", name)
}

// Close stops the server.
func (m *MediaServer) Close(ctx context.Context) error {
	err := m.srv.Shutdown(ctx)
	<-m.done
	return err
}
