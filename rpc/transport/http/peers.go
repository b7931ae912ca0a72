package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"net/http"
	"time"
)

// NewPeerTransport creates the fan-out transport for all peers of config.
// tlsConfig is ignored for plaintext clusters.
func NewPeerTransport(config common.ServerConfig, tlsConfig *tls.Config) transport.IPeerTransport {
	timeout := time.Duration(config.TimeoutSecond) * time.Second
	if config.Plaintext {
		tlsConfig = nil
	}
	return &peerTransport{
		peers:   append([]string(nil), config.Peers...),
		scheme:  config.Scheme(),
		timeout: timeout,
		client:  newHTTPClient(timeout, tlsConfig),
	}
}

type peerTransport struct {
	peers   []string
	scheme  string
	timeout time.Duration
	client  *http.Client
}

// newHTTPClient creates the shared pooled client. Connections to one peer are
// reused by all concurrent rounds, so the pool per host is large.
func newHTTPClient(timeout time.Duration, tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     tlsConfig,
			MaxIdleConns:        1024,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   tlsConfig != nil,
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IPeerTransport)
// --------------------------------------------------------------------------

func (t *peerTransport) Peers() []string {
	return t.peers
}

func (t *peerTransport) Fanout(ctx context.Context, path string, body []byte, need int) map[string]*transport.Response {
	type result struct {
		reply *transport.Response
		err   error
		peer  string
	}

	// buffered, so late replies never block their goroutine
	results := make(chan result, len(t.peers))
	for _, peer := range t.peers {
		go func(peer string) {
			reply, err := t.post(ctx, peer, path, body)
			results <- result{peer: peer, reply: reply, err: err}
		}(peer)
	}

	replies := make(map[string]*transport.Response, len(t.peers))
	succeeded := 0
	for pending := len(t.peers); pending > 0; pending-- {
		select {
		case r := <-results:
			if r.err != nil {
				Logger.Debugf("POST %s failed on %s: %v", path, r.peer, r.err)
				continue
			}
			replies[r.peer] = r.reply
			if r.reply.StatusCode != http.StatusOK {
				continue
			}
			if succeeded++; need > 0 && succeeded >= need {
				return replies
			}
		case <-ctx.Done():
			return replies
		}
	}
	return replies
}

func (t *peerTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// post sends one request to peer. The request is detached from the
// cancellation of ctx and only bounded by the transport timeout.
func (t *peerTransport) post(ctx context.Context, peer, path string, body []byte) (*transport.Response, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.scheme+"://"+peer+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		peerRequest(peer, "error").Inc()
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		peerRequest(peer, "error").Inc()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		peerRequest(peer, "rejected").Inc()
	} else {
		peerRequest(peer, "ok").Inc()
		peerDuration(peer).UpdateDuration(start)
	}

	return &transport.Response{
		Endpoint:   peer,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       reply,
	}, nil
}

func peerRequest(peer, result string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`kvlog_peer_requests_total{peer=%q,result=%q}`, peer, result))
}

func peerDuration(peer string) *metrics.Histogram {
	return metrics.GetOrCreateHistogram(fmt.Sprintf(`kvlog_peer_request_duration_seconds{peer=%q}`, peer))
}
