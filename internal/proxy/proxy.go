// Package proxy implements the transparent interception layer: a
// forwarding man-in-the-middle that passes every exchange through
// unmodified and hands a copy of each completed exchange to the
// correlator.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rail44/culprit/internal/channel"
	"github.com/rail44/culprit/internal/correlate"
	"github.com/rail44/culprit/internal/log"
	"github.com/rail44/culprit/internal/trust"
)

// Server is the interception proxy. Plain proxy requests are forwarded
// directly; CONNECT tunnels are terminated with leaf certificates minted
// from the local CA so encrypted exchanges can be observed too.
type Server struct {
	ca         *trust.CA
	correlator *correlate.Correlator
	channel    *channel.Writer
	transport  http.RoundTripper

	mu    sync.Mutex
	leafs map[string]tls.Certificate
}

// Option configures a Server.
type Option func(*Server)

// WithTransport overrides the upstream round tripper. Tests use this to
// point the proxy at backends with self-signed certificates.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// New creates an interception server that writes qualifying diagnosis
// records to w.
func New(ca *trust.CA, correlator *correlate.Correlator, w *channel.Writer, opts ...Option) *Server {
	s := &Server{
		ca:         ca,
		correlator: correlator,
		channel:    w,
		transport:  &http.Transport{Proxy: nil},
		leafs:      make(map[string]tls.Certificate),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe serves the proxy on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the proxy on an existing listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("interception proxy listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP dispatches between CONNECT tunnels and plain proxy requests.
// net/http gives each connection its own goroutine, so one slow exchange
// never blocks another's forwarding.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.proxyHTTP(w, r)
}

// proxyHTTP forwards one plain (absolute-URI) proxy request.
func (s *Server) proxyHTTP(w http.ResponseWriter, r *http.Request) {
	reqBody, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadGateway)
		return
	}

	out := r.Clone(r.Context())
	out.RequestURI = ""
	out.Body = io.NopCloser(bytes.NewReader(reqBody))
	out.ContentLength = int64(len(reqBody))
	removeHopHeaders(out.Header)

	resp, err := s.transport.RoundTrip(out)
	if err != nil {
		log.Warn("upstream request failed", "url", out.URL.String(), "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	// Stream the response through while keeping a copy for observation.
	var respBody bytes.Buffer
	if _, err := io.Copy(w, io.TeeReader(resp.Body, &respBody)); err != nil {
		log.Debug("client went away mid-response", "url", out.URL.String(), "error", err)
		return
	}

	s.observe(correlate.Exchange{
		Request:  correlate.Request{URL: out.URL.String(), Method: out.Method, Body: reqBody},
		Response: correlate.Response{StatusCode: resp.StatusCode, Body: respBody.Bytes()},
	})
}

// handleConnect terminates a CONNECT tunnel with a minted certificate and
// proxies the decrypted exchanges inside it.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	upstreamHost := r.Host
	hostname, _, err := net.SplitHostPort(upstreamHost)
	if err != nil {
		hostname = upstreamHost
		upstreamHost = net.JoinHostPort(upstreamHost, "443")
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hj.Hijack()
	if err != nil {
		log.Error("failed to hijack CONNECT", "host", upstreamHost, "error", err)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := chi.ServerName
			if name == "" {
				name = hostname
			}
			return s.leaf(name)
		},
	})
	if err := tlsConn.Handshake(); err != nil {
		log.Debug("TLS handshake failed", "host", upstreamHost, "error", err)
		return
	}
	defer tlsConn.Close()

	br := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			// EOF when the client is done with the tunnel.
			return
		}
		if !s.tunnelExchange(tlsConn, req, upstreamHost) {
			return
		}
	}
}

// tunnelExchange forwards one decrypted request/response pair. Returns
// false when the tunnel can no longer be reused.
func (s *Server) tunnelExchange(conn net.Conn, req *http.Request, upstreamHost string) bool {
	reqBody, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return false
	}

	req.URL.Scheme = "https"
	req.URL.Host = upstreamHost
	req.RequestURI = ""
	req.Body = io.NopCloser(bytes.NewReader(reqBody))
	req.ContentLength = int64(len(reqBody))
	removeHopHeaders(req.Header)

	resp, err := s.transport.RoundTrip(req)
	if err != nil {
		log.Warn("upstream request failed", "url", req.URL.String(), "error", err)
		io.WriteString(conn, "HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n")
		return false
	}
	defer resp.Body.Close()

	var respBody bytes.Buffer
	resp.Body = readCloser{io.TeeReader(resp.Body, &respBody), resp.Body}
	if err := resp.Write(conn); err != nil {
		log.Debug("client went away mid-response", "url", req.URL.String(), "error", err)
		return false
	}

	s.observe(correlate.Exchange{
		Request:  correlate.Request{URL: req.URL.String(), Method: req.Method, Body: reqBody},
		Response: correlate.Response{StatusCode: resp.StatusCode, Body: respBody.Bytes()},
	})

	return !resp.Close && !req.Close
}

// observe hands one completed exchange to the correlator. Any failure
// here is absorbed: a single bad exchange must never take down the layer,
// and nothing but framed records may reach the channel writer.
func (s *Server) observe(ex correlate.Exchange) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("exchange observation panicked", "url", ex.Request.URL, "panic", r)
		}
	}()

	rec, err := s.correlator.Examine(ex)
	if err != nil {
		// Out-of-band: stderr only, the exchange is skipped.
		log.Error("failed to examine exchange", "url", ex.Request.URL, "error", err)
		return
	}
	if rec == nil {
		return
	}
	if err := s.channel.WriteRecord(*rec); err != nil {
		log.Error("failed to write diagnosis record", "error", err)
		return
	}
	log.Info("diagnosis record emitted", "message", rec.Message)
}

// leaf returns a cached or freshly minted certificate for host.
func (s *Server) leaf(host string) (*tls.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cert, ok := s.leafs[host]; ok {
		return &cert, nil
	}
	cert, err := s.ca.IssueLeaf(host)
	if err != nil {
		return nil, err
	}
	s.leafs[host] = cert
	return &cert, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		if isHopHeader(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
