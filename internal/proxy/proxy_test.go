package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rail44/culprit/internal/channel"
	"github.com/rail44/culprit/internal/correlate"
	"github.com/rail44/culprit/internal/diagnosis"
	"github.com/rail44/culprit/internal/trust"
)

// syncBuffer is a goroutine-safe channel sink for tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func newTestCA(t *testing.T) *trust.CA {
	t.Helper()
	dir := t.TempDir()
	if err := trust.Generate(dir, false); err != nil {
		t.Fatalf("failed to generate CA: %v", err)
	}
	ca, err := trust.Load(dir)
	if err != nil {
		t.Fatalf("failed to load CA: %v", err)
	}
	return ca
}

func startTestProxy(t *testing.T, sink *syncBuffer, opts ...Option) string {
	t.Helper()
	ca := newTestCA(t)
	s := New(ca, correlate.New("/v1/messages"), channel.NewWriter(sink), opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx, ln)

	return ln.Addr().String()
}

func proxiedClient(t *testing.T, proxyAddr string, tlsConfig *tls.Config) *http.Client {
	t.Helper()
	proxyURL, err := url.Parse("http://" + proxyAddr)
	if err != nil {
		t.Fatalf("failed to parse proxy URL: %v", err)
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: tlsConfig,
		},
		Timeout: 5 * time.Second,
	}
}

// waitForFrame polls the sink until a complete frame lands; observation
// happens just after the response is forwarded, so the client can be a
// beat ahead of the channel write.
func waitForFrame(t *testing.T, sink *syncBuffer) *diagnosis.Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok, err := channel.ExtractRecord(sink.Bytes())
		if err != nil {
			t.Fatalf("ExtractRecord failed: %v", err)
		}
		if ok {
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no diagnosis frame observed")
	return nil
}

const rejectionBody = `{"error": {"type": "invalid_request_error", "message": "tools.1.custom.input_schema: JSON schema is invalid"}}`

const toolsRequest = `{"tools": [{"name": "A", "input_schema": {}}, {"name": "B", "input_schema": {"$schema": "http://json-schema.org/draft-07/schema#"}}]}`

func TestPlainProxyPassThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "yes")
		io.WriteString(w, "hello from backend")
	}))
	defer backend.Close()

	sink := &syncBuffer{}
	proxyAddr := startTestProxy(t, sink)
	client := proxiedClient(t, proxyAddr, nil)

	resp, err := client.Get(backend.URL + "/anything")
	if err != nil {
		t.Fatalf("request through proxy failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello from backend" {
		t.Errorf("body = %q, not forwarded unmodified", body)
	}
	if resp.Header.Get("X-Backend") != "yes" {
		t.Error("backend header not forwarded")
	}

	// Ordinary traffic must produce zero channel writes.
	time.Sleep(100 * time.Millisecond)
	if len(sink.Bytes()) != 0 {
		t.Errorf("unexpected channel output: %q", sink.Bytes())
	}
}

func TestPlainProxyEmitsDiagnosis(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/v1/messages") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, rejectionBody)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	sink := &syncBuffer{}
	proxyAddr := startTestProxy(t, sink)
	client := proxiedClient(t, proxyAddr, nil)

	resp, err := client.Post(backend.URL+"/v1/messages", "application/json", strings.NewReader(toolsRequest))
	if err != nil {
		t.Fatalf("request through proxy failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, rejection not forwarded", resp.StatusCode)
	}

	rec := waitForFrame(t, sink)
	if rec.ToolName != "B" {
		t.Errorf("ToolName = %q, want %q", rec.ToolName, "B")
	}
	if rec.ToolIndex == nil || *rec.ToolIndex != 1 {
		t.Errorf("ToolIndex = %v, want 1", rec.ToolIndex)
	}
}

func TestConnectTunnelInterception(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/v1/messages") {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, rejectionBody)
			return
		}
		io.WriteString(w, "ok")
	}))
	defer backend.Close()

	sink := &syncBuffer{}
	// The upstream leg must accept the httptest server's self-signed cert.
	upstream := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}

	ca := newTestCA(t)
	s := New(ca, correlate.New("/v1/messages"), channel.NewWriter(sink), WithTransport(upstream))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx, ln)

	// The client trusts our interception CA, as a configured real client
	// would via SSL_CERT_FILE.
	pool := x509.NewCertPool()
	pool.AddCert(ca.Cert)
	client := proxiedClient(t, ln.Addr().String(), &tls.Config{RootCAs: pool})

	resp, err := client.Post(backend.URL+"/v1/messages", "application/json", strings.NewReader(toolsRequest))
	if err != nil {
		t.Fatalf("TLS request through proxy failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, rejection not forwarded", resp.StatusCode)
	}

	rec := waitForFrame(t, sink)
	if rec.ToolName != "B" {
		t.Errorf("ToolName = %q, want %q", rec.ToolName, "B")
	}
}
