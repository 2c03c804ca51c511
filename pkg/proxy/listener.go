// Package proxy implements the local diagnostic reverse proxy: a
// loopback-only TCP listener (C6), a bidirectional request/response
// translator between two LLM wire formats (C7), and an incremental
// Server-Sent Events parser (C8).
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

const maxRequestBytes = 64 * 1024

// Config configures the listener's routing decision and upstream
// addresses. One Listener serves exactly one primary and (optionally)
// one alternate upstream.
type Config struct {
	ListenAddr             string
	PrimaryUpstream        string // scheme://host[:port], e.g. https://api.anthropic.com
	AlternateUpstream      string
	AlternateAPIKey        string
	RouteSet               []string // agent_type values routed to the alternate upstream
	TierMap                map[string]string
	DefaultAlternateModel  string
	AlternateProviderStyle string // "azure" (default) or "openai"
	StrictValidation       bool   // reject bodies that fail the native request schema
}

// Listener accepts local plaintext HTTP connections and forwards them
// to the configured upstream, translating bodies when routed to the
// alternate provider.
type Listener struct {
	cfg      Config
	listener net.Listener
	client   *http.Client
	logger   *slog.Logger
	schema   *bodySchema
	provider Provider
}

// New binds a loopback TCP listener at cfg.ListenAddr. When
// cfg.StrictValidation is set, inbound bodies are additionally checked
// against the native request JSON schema before translation.
func New(cfg Config, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	host, _, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: listen address %s: %w", cfg.ListenAddr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return nil, fmt.Errorf("proxy: refusing to listen on non-loopback address %s", cfg.ListenAddr)
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("proxy: listen %s: %w", cfg.ListenAddr, err)
	}

	l := &Listener{
		cfg:      cfg,
		listener: ln,
		client:   &http.Client{Timeout: 5 * time.Minute},
		logger:   logger,
		provider: newProvider(cfg.AlternateProviderStyle, cfg.TierMap, cfg.DefaultAlternateModel),
	}
	if cfg.StrictValidation {
		schema, err := newBodySchema()
		if err != nil {
			ln.Close()
			return nil, err
		}
		l.schema = schema
	}
	return l, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.listener.Close() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. One goroutine handles each connection.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("proxy: accept: %w", err)
			}
		}
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	limited := io.LimitReader(conn, maxRequestBytes)
	reader := bufio.NewReader(limited)

	req, err := http.ReadRequest(reader)
	if err != nil {
		l.logger.Warn("proxy: malformed request", "error", err)
		writeRawError(conn, http.StatusBadRequest, "malformed request")
		return
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		l.logger.Warn("proxy: failed to read body", "error", err)
		writeRawError(conn, http.StatusBadRequest, "failed to read body")
		return
	}

	if l.schema != nil {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			writeRawError(conn, http.StatusBadRequest, "malformed json body")
			return
		}
		if err := l.schema.Validate(decoded); err != nil {
			l.logger.Warn("proxy: request failed strict validation", "error", err)
			writeRawError(conn, http.StatusBadRequest, "request failed schema validation")
			return
		}
	}

	agentType := extractAgentType(body)
	toAlternate := l.shouldRouteToAlternate(agentType)

	upstream := l.cfg.PrimaryUpstream
	outBody := body
	if toAlternate {
		upstream = l.cfg.AlternateUpstream
		translated, terr := l.translateBody(body)
		if terr != nil {
			l.logger.Warn("proxy: translation failed", "error", terr)
			writeRawError(conn, http.StatusBadGateway, "translation failed")
			return
		}
		outBody = translated
	}

	if upstream == "" {
		writeRawError(conn, http.StatusBadGateway, "no upstream configured")
		return
	}

	upstreamURL, err := url.Parse(upstream)
	if err != nil {
		writeRawError(conn, http.StatusBadGateway, "invalid upstream configuration")
		return
	}

	outReq, err := http.NewRequestWithContext(ctx, req.Method, upstream+req.URL.Path, bytes.NewReader(outBody))
	if err != nil {
		writeRawError(conn, http.StatusBadGateway, "failed to build upstream request")
		return
	}
	outReq.Header = req.Header.Clone()
	outReq.Host = upstreamURL.Host
	outReq.ContentLength = int64(len(outBody))
	if toAlternate && l.cfg.AlternateAPIKey != "" {
		outReq.Header.Set("Authorization", "Bearer "+l.cfg.AlternateAPIKey)
	}

	resp, err := l.client.Do(outReq)
	if err != nil {
		l.logger.Warn("proxy: upstream connection failed", "upstream", upstream, "error", err)
		writeRawError(conn, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	if err := resp.Write(conn); err != nil {
		l.logger.Warn("proxy: failed to stream response", "error", err)
	}
}

func (l *Listener) translateBody(body []byte) ([]byte, error) {
	var req NativeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("proxy: decode native request: %w", err)
	}
	alt, err := l.provider.TranslateForward(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: %s provider: %w", l.provider.Name(), err)
	}
	return json.Marshal(alt)
}

// shouldRouteToAlternate decides whether a request carrying agentType
// should be routed to the alternate upstream, per the configured route
// set. An empty agentType never routes to the alternate.
func (l *Listener) shouldRouteToAlternate(agentType string) bool {
	if agentType == "" || l.cfg.AlternateUpstream == "" {
		return false
	}
	for _, candidate := range l.cfg.RouteSet {
		if candidate == agentType {
			return true
		}
	}
	return false
}

var agentTypePattern = regexp.MustCompile(`"agent_type"\s*:\s*"([^"]*)"`)

// extractAgentType performs the simple, non-schema-validating scan the
// listener uses to find the first agent_type string inside a JSON
// request body.
func extractAgentType(body []byte) string {
	m := agentTypePattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return string(m[1])
}

func writeRawError(w io.Writer, status int, msg string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(msg), msg)
}
