package router

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jgraef/gdax-go/internal/book"
	"github.com/jgraef/gdax-go/pkg/model"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.n += n
	return n, err
}

func logging(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int("bytes", sw.n),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// Cors wraps a handler with permissive CORS headers; the book is public
// read-only data.
func Cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		// short-circuit preflight so it never hits the route table
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type BindRouterOpts struct {
	ServerRouter *http.ServeMux
	Books        map[string]*book.OrderBook // keyed by product id
	Logger       *zap.Logger
}

// BindRouter attaches the read-only book API to the mux.
func BindRouter(opts BindRouterOpts) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	lookup := func(w http.ResponseWriter, r *http.Request) *book.OrderBook {
		b, ok := opts.Books[r.PathValue("product")]
		if !ok {
			writeJSONError(w, http.StatusNotFound, errors.New("unknown product"))
			return nil
		}
		return b
	}

	mux := opts.ServerRouter

	mux.Handle("GET /api/v1/book/{product}", logging(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := lookup(w, r)
		if b == nil {
			return
		}
		writeJSON(w, http.StatusOK, b.Snapshot())
	})))

	mux.Handle("GET /api/v1/book/{product}/top", logging(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := lookup(w, r)
		if b == nil {
			return
		}
		writeJSON(w, http.StatusOK, b.TopOfBook())
	})))

	mux.Handle("GET /api/v1/book/{product}/depth", logging(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := lookup(w, r)
		if b == nil {
			return
		}
		side, err := model.ParseSide(r.URL.Query().Get("side"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err)
			return
		}
		price, err := decimal.NewFromString(r.URL.Query().Get("price"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, errors.New("invalid price"))
			return
		}
		orders := b.Depth(side, price)
		if orders == nil {
			orders = []model.Order{}
		}
		writeJSON(w, http.StatusOK, orders)
	})))

	mux.Handle("GET /api/v1/ticker/{product}", logging(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := lookup(w, r)
		if b == nil {
			return
		}
		ticker := b.CurrentTicker()
		if ticker == nil {
			writeJSONError(w, http.StatusNotFound, errors.New("no trade yet"))
			return
		}
		writeJSON(w, http.StatusOK, ticker)
	})))

	mux.Handle("GET /healthz", logging(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": 200,
			"health": "healthy",
		})
	})))
}
