package http

import (
	"context"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// addr strips the scheme of a test server URL
func addr(s *httptest.Server) string {
	return s.Listener.Addr().String()
}

func echoServer(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write(append([]byte(r.URL.Path+":"), body...))
	}))
}

func TestFanoutKeepsRejections(t *testing.T) {
	ok1 := echoServer(http.StatusOK)
	defer ok1.Close()
	ok2 := echoServer(http.StatusOK)
	defer ok2.Close()
	rejecting := echoServer(http.StatusBadRequest)
	defer rejecting.Close()
	down := echoServer(http.StatusOK)
	down.Close()

	config := common.ServerConfig{
		Peers:         []string{addr(ok1), addr(ok2), addr(rejecting), addr(down)},
		Plaintext:     true,
		TimeoutSecond: 5,
	}
	peers := NewPeerTransport(config, nil)
	defer peers.Close()

	replies := peers.Fanout(context.Background(), "/learn/db/1/2", []byte("body"), 0)
	if len(replies) != 3 {
		t.Fatalf("expected 3 replies, got %d: %v", len(replies), replies)
	}

	tests := []struct {
		peer   string
		status int
	}{
		{addr(ok1), http.StatusOK},
		{addr(ok2), http.StatusOK},
		{addr(rejecting), http.StatusBadRequest},
	}
	for _, tt := range tests {
		reply := replies[tt.peer]
		if reply == nil {
			t.Errorf("no reply of %s", tt.peer)
			continue
		}
		if reply.StatusCode != tt.status || reply.Endpoint != tt.peer {
			t.Errorf("reply of %s: status %d endpoint %s", tt.peer, reply.StatusCode, reply.Endpoint)
		}
		if got := string(reply.Body); got != "/learn/db/1/2:body" {
			t.Errorf("reply of %s = %q", tt.peer, got)
		}
	}
	if _, ok := replies[addr(down)]; ok {
		t.Errorf("unreachable peer has a reply")
	}
}

func TestFanoutRejectionsDoNotCountForNeed(t *testing.T) {
	rejecting := echoServer(http.StatusBadRequest)
	defer rejecting.Close()
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	}))
	defer ok.Close()

	config := common.ServerConfig{Peers: []string{addr(rejecting), addr(ok)}, Plaintext: true, TimeoutSecond: 5}
	peers := NewPeerTransport(config, nil)

	replies := peers.Fanout(context.Background(), "/promise/db/1/1", nil, 1)
	if reply := replies[addr(ok)]; reply == nil || string(reply.Body) != "late" {
		t.Errorf("Fanout returned before a successful reply: %v", replies)
	}
}

func TestFanoutReturnsEarly(t *testing.T) {
	release := make(chan struct{})
	var slowDone atomic.Bool
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		slowDone.Store(true)
	}))
	defer slow.Close()
	defer close(release)
	fast := echoServer(http.StatusOK)
	defer fast.Close()

	config := common.ServerConfig{
		Peers:         []string{addr(slow), addr(fast)},
		Plaintext:     true,
		TimeoutSecond: 30,
	}
	peers := NewPeerTransport(config, nil)

	start := time.Now()
	replies := peers.Fanout(context.Background(), "/max_log_seq/db", nil, 1)
	if len(replies) != 1 || replies[addr(fast)] == nil || replies[addr(fast)].StatusCode != http.StatusOK {
		t.Fatalf("unexpected replies: %v", replies)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Fanout waited for the slow peer")
	}
	if slowDone.Load() {
		t.Errorf("slow peer finished before the fan-out returned")
	}
}

func TestFanoutCancelStopsWaiting(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer slow.Close()
	defer close(release)

	config := common.ServerConfig{Peers: []string{addr(slow)}, Plaintext: true, TimeoutSecond: 30}
	peers := NewPeerTransport(config, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if replies := peers.Fanout(ctx, "/promise/db/1/1", nil, 0); len(replies) != 0 {
		t.Errorf("unexpected replies: %v", replies)
	}
}

func TestFanoutOverTLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer server.Close()

	tlsConfig, err := ClientTLSConfig("", true)
	if err != nil {
		t.Fatalf("ClientTLSConfig failed: %v", err)
	}
	config := common.ServerConfig{Peers: []string{addr(server)}, TimeoutSecond: 5}
	peers := NewPeerTransport(config, tlsConfig)

	replies := peers.Fanout(context.Background(), "/max_log_seq/db", nil, 0)
	if reply := replies[addr(server)]; reply == nil || string(reply.Body) != "secure" {
		t.Errorf("unexpected replies: %v", replies)
	}
}

func TestClientTransportRoundRobin(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
		w.Header().Set("x-seq", "7")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer b.Close()

	client := NewHttpClientTransport()
	err := client.Connect(common.ClientConfig{
		Endpoints:     []string{addr(a), b.URL},
		TimeoutSecond: 5,
		RetryCount:    2,
		Plaintext:     true,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	for i := 0; i < 4; i++ {
		resp, err := client.Send(context.Background(), http.MethodGet, "/db/1", nil, nil)
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		// status codes are responses, not errors
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("unexpected status %d", resp.StatusCode)
		}
		if strings.HasSuffix(resp.Endpoint, addr(a)) && resp.Header.Get("x-seq") != "7" {
			t.Errorf("header lost")
		}
	}
	if hitsA.Load() != 2 || hitsB.Load() != 2 {
		t.Errorf("requests not spread evenly: a=%d b=%d", hitsA.Load(), hitsB.Load())
	}
}

func TestClientTransportRetriesNextEndpoint(t *testing.T) {
	down := echoServer(http.StatusOK)
	down.Close()
	up := echoServer(http.StatusOK)
	defer up.Close()

	client := NewHttpClientTransport()
	_ = client.Connect(common.ClientConfig{
		Endpoints:     []string{addr(down), addr(up)},
		TimeoutSecond: 5,
		RetryCount:    2,
		Plaintext:     true,
	})

	// whichever endpoint is picked first, the second attempt reaches up
	for i := 0; i < 2; i++ {
		resp, err := client.Send(context.Background(), http.MethodPut, "/db", nil, []byte("x"))
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		if string(resp.Body) != "/db:x" {
			t.Errorf("unexpected body %q", resp.Body)
		}
	}
}
