// Package localauth runs the short-lived loopback HTTP listener that catches
// the provider redirect during a CLI browser sign-in.
package localauth

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// Preferred loopback port range, probed in order so the redirect URI
	// stays predictable across runs.
	PortRangeStart = 8085
	PortRangeEnd   = 8099

	// CallbackTimeout bounds how long the listener waits for the browser
	// to come back.
	CallbackTimeout = 5 * time.Minute
)

var (
	ErrPortInUse = errors.New("no loopback port available in the preferred range")
	ErrTimeout   = errors.New("timed out waiting for the sign-in callback")
	ErrDenied    = errors.New("sign-in was declined in the browser")
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Callback is the raw redirect payload delivered by the provider. Exactly one
// callback wins per listener; later requests get a 400.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Listener is a single-use loopback callback catcher. Start it, hand its
// RedirectURI to the sign-in initiation, then Wait for the browser.
type Listener struct {
	// Timeout bounds Wait. Zero means CallbackTimeout.
	Timeout time.Duration

	httpd    *http.Server
	listener net.Listener
	port     int
	resultCh chan Callback
	errCh    chan error
	done     chan struct{}
	once     sync.Once
	stopOnce sync.Once
	log      *slog.Logger
}

func NewListener() *Listener {
	return &Listener{
		resultCh: make(chan Callback, 1),
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
		log:      slog.Default().With("system", "localauth"),
	}
}

// Start binds the first free port in the preferred range and begins serving.
// It returns ErrPortInUse when the whole range is occupied.
func (l *Listener) Start(ctx context.Context) error {
	var lastErr error
	for port := PortRangeStart; port <= PortRangeEnd; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			lastErr = err
			continue
		}
		l.listener = ln
		l.port = port
		break
	}
	if l.listener == nil {
		return fmt.Errorf("%w (%d-%d): %v", ErrPortInUse, PortRangeStart, PortRangeEnd, lastErr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", l.handleCallback)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// anything but the callback path is answered without consuming
		// the single-shot result
		http.NotFound(w, r)
	})

	l.httpd = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := l.httpd.Serve(l.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case l.errCh <- err:
			default:
			}
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
			// Stop was called first; nothing left to watch
		}
	}()

	l.log.Debug("callback listener started", "port", l.port)
	return nil
}

// RedirectURI is the value to register as the sign-in redirect target.
func (l *Listener) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d/callback", l.port)
}

func (l *Listener) Port() int { return l.port }

// Wait blocks until the browser delivers a callback, the timeout elapses, or
// the context ends. The listener is always stopped before Wait returns, so
// the port is free again immediately.
func (l *Listener) Wait(ctx context.Context) (*Callback, error) {
	defer l.Stop()

	timeout := l.Timeout
	if timeout == 0 {
		timeout = CallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case cb := <-l.resultCh:
		if cb.Error == "access_denied" {
			return nil, ErrDenied
		}
		if cb.Error != "" {
			if cb.ErrorDescription != "" {
				return nil, fmt.Errorf("sign-in failed: %s", cb.ErrorDescription)
			}
			return nil, fmt.Errorf("sign-in failed: %s", cb.Error)
		}
		if cb.Code == "" || cb.State == "" {
			return nil, errors.New("callback missing authorization code or state")
		}
		return &cb, nil
	case err := <-l.errCh:
		return nil, err
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	var won bool
	l.once.Do(func() {
		won = true
		l.processCallback(w, r)
	})
	if !won {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
	}
}

func (l *Listener) processCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Cache-Control", "no-store")

	query := r.URL.Query()
	cb := Callback{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
	l.log.Debug("received callback", "hasCode", cb.Code != "", "hasError", cb.Error != "")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch {
	case cb.Error != "":
		msg := cb.ErrorDescription
		if msg == "" {
			msg = cb.Error
		}
		l.renderPage(w, "error.html", msg)
	case cb.Code == "" || cb.State == "":
		w.WriteHeader(http.StatusBadRequest)
		l.renderPage(w, "error.html", "Missing authorization code or state")
	default:
		l.renderPage(w, "success.html", "")
	}

	select {
	case l.resultCh <- cb:
	default:
	}
}

func (l *Listener) renderPage(w http.ResponseWriter, name, msg string) {
	err := pageTemplates.ExecuteTemplate(w, name, map[string]string{"Message": msg})
	if err != nil {
		l.log.Warn("rendering callback page failed", "err", err)
	}
}

// Stop shuts the listener down. Safe to call more than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		if l.httpd != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.httpd.Shutdown(ctx)
		}
		if l.listener != nil {
			_ = l.listener.Close()
		}
		l.log.Debug("callback listener stopped")
	})
}
