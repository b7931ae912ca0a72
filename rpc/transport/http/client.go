package http

import (
	"bytes"
	"context"
	"fmt"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/transport"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	endpoints  []string
	client     *http.Client
	counter    uint32
	retryCount int
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints given")
	}

	scheme := "https://"
	if config.Plaintext {
		scheme = "http://"
	}

	// Normalize each endpoint to a base URL
	endpoints := make([]string, len(config.Endpoints))
	for i, endpoint := range config.Endpoints {
		if !strings.Contains(endpoint, "://") {
			endpoint = scheme + endpoint
		}
		endpoints[i] = strings.TrimSuffix(endpoint, "/")
	}

	tlsConfig, err := ClientTLSConfig(config.CAFile, config.TLSSkipVerify)
	if err != nil {
		return err
	}

	// Set the client and server URLs
	t.client = newHTTPClient(time.Duration(config.TimeoutSecond)*time.Second, tlsConfig)
	t.endpoints = endpoints
	t.counter = 0
	t.retryCount = max(1, config.RetryCount)

	// No error
	return nil
}

func (t *httpClientTransport) Send(ctx context.Context, method, path string, header http.Header, body []byte) (*transport.Response, error) {
	// Check if the transport is initialized
	if t.client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	// Send the request (with retries), each retry goes to the next endpoint
	var err error
	for i := 0; i < t.retryCount; i++ {
		// Select the next server via round-robin
		idx := atomic.AddUint32(&t.counter, 1) % uint32(len(t.endpoints))
		endpoint := t.endpoints[idx]

		var resp *transport.Response
		if resp, err = t.do(ctx, endpoint, method, path, header, body); err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

func (t *httpClientTransport) Close() error {
	// Close the client
	if t.client != nil {
		t.client.CloseIdleConnections()
	}

	// Reset the client and server URLs
	t.client = nil
	t.endpoints = nil

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// do sends a single request to endpoint
func (t *httpClientTransport) do(ctx context.Context, endpoint, method, path string, header http.Header, body []byte) (*transport.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	httpResponse, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, err
	}
	return &transport.Response{
		Endpoint:   endpoint,
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header,
		Body:       respBody,
	}, nil
}
