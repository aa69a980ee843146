// internal/transport/http/handler.go
package http

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leraspizh/crypto-project/internal/broadcast"
	"github.com/leraspizh/crypto-project/internal/relay"
	"github.com/leraspizh/crypto-project/internal/session"
	"github.com/leraspizh/crypto-project/internal/storage"
	"github.com/leraspizh/crypto-project/pkg/logger"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000

	StreamPath = "/ws/crypto/"
)

//go:embed templates/*.html
var templatesFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Options configures Handler.
type Options struct {
	// Symbols are listed on the index page.
	Symbols []string
	// AllowedOrigins restricts WebSocket upgrades. Empty or "*" allows all.
	AllowedOrigins []string
	Session        session.Config
	// Latest backs /api/prices/latest. Nil disables the endpoint.
	Latest storage.LatestReader
}

// Handler serves the index page, the history API and the subscriber socket.
type Handler struct {
	history  storage.Reader
	group    *broadcast.Group
	relay    relay.Relay
	upgrader websocket.Upgrader
	opts     Options
	log      *logger.Logger
}

func NewHandler(history storage.Reader, group *broadcast.Group, rel relay.Relay, opts Options, log *logger.Logger) *Handler {
	h := &Handler{
		history: history,
		group:   group,
		relay:   rel,
		opts:    opts,
		log:     log.Named("http"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

type indexData struct {
	Symbols    []string
	StreamPath string
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, indexData{Symbols: h.opts.Symbols, StreamPath: StreamPath}); err != nil {
		h.log.WithContext(r.Context()).Error("render index", zap.Error(err))
	}
}

// ListPrices returns the most recent records, newest first.
func (h *Handler) ListPrices(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "invalid limit")
			return
		}
		limit = min(n, MaxListLimit)
	}

	recs, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.log.WithContext(r.Context()).Error("list prices", zap.Error(err))
		internalError(w, "query failed")
		return
	}
	if recs == nil {
		recs = []storage.PriceRecord{}
	}
	writeJSON(w, recs)
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, "invalid id")
		return
	}
	rec, err := h.history.Get(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		notFound(w, "not found")
	case err != nil:
		h.log.WithContext(r.Context()).Error("get price", zap.Int64("id", id), zap.Error(err))
		internalError(w, "query failed")
	default:
		writeJSON(w, rec)
	}
}

// LatestPrices returns the newest record of every symbol, keyed by symbol.
func (h *Handler) LatestPrices(w http.ResponseWriter, r *http.Request) {
	if h.opts.Latest == nil {
		notFound(w, "latest prices unavailable")
		return
	}
	latest, err := h.opts.Latest.Latest(r.Context())
	if err != nil {
		h.log.WithContext(r.Context()).Error("latest prices", zap.Error(err))
		internalError(w, "query failed")
		return
	}
	if latest == nil {
		latest = map[string]storage.PriceRecord{}
	}
	writeJSON(w, latest)
}

// Stream upgrades the request and runs a session until it closes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.log.WithContext(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s := session.New(conn, h.group, h.relay, h.opts.Session, h.log)
	_ = s.Serve(r.Context())
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
