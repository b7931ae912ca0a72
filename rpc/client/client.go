package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/serializer"
	"github.com/ValentinKolb/kvlog/rpc/transport"
	"net/http"
	"strconv"
)

// Header names of the client protocol
const (
	HeaderKey     = "x-key"
	HeaderVersion = "x-version"
	HeaderSeq     = "x-seq"
	HeaderWriter  = "x-writer"
)

// PutResult names the node that wrote a value and the slot it ended up in
type PutResult struct {
	Writer string
	LogSeq uint64
}

// Record is a learned row as returned by a GET
type Record struct {
	LogSeq uint64
	store.Entry
}

// Client is the client of the kvlog HTTP api. Requests are spread over all
// configured endpoints, any node can serve any request.
type Client struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// NewClient connects the transport and returns a client
func NewClient(config common.ClientConfig, t transport.IRPCClientTransport, s serializer.IRPCSerializer) (*Client, error) {
	// Connect the transport
	if err := t.Connect(config); err != nil {
		return nil, err
	}
	return &Client{config: config, transport: t, serializer: s}, nil
}

// Close closes the underlying transport
func (c *Client) Close() error {
	return c.transport.Close()
}

// Put writes value under key. version may be nil.
func (c *Client) Put(ctx context.Context, db, key string, version *uint64, value []byte) (PutResult, error) {
	path := Path(db, key)
	if version != nil {
		path = Path(db, key, u64(*version))
	}
	return c.put(ctx, path, value)
}

// Append writes value as a keyless row. Concurrent appends to the same node
// may be combined into one row, in which case all of them get the same slot.
func (c *Client) Append(ctx context.Context, db string, value []byte) (PutResult, error) {
	return c.put(ctx, Path(db), value)
}

// Get returns the latest value of key
func (c *Client) Get(ctx context.Context, db, key string) (*Record, error) {
	return c.get(ctx, Path(db, key))
}

// GetSeq returns the row at logSeq
func (c *Client) GetSeq(ctx context.Context, db string, logSeq uint64) (*Record, error) {
	return c.get(ctx, Path(db, u64(logSeq)))
}

// MaxLogSeq returns the greatest log seq known to the node that answers
func (c *Client) MaxLogSeq(ctx context.Context, db string) (uint64, error) {
	resp, err := c.transport.Send(ctx, http.MethodPost, Path("max_log_seq", db), nil, nil)
	if err != nil {
		return 0, err
	}
	// peer endpoints answer errors with a serialized error message
	msg, err := decodeReply(c.serializer, resp.Body, common.MsgTMaxLogSeq)
	if err != nil {
		return 0, err
	}
	return msg.Seq, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (c *Client) put(ctx context.Context, path string, value []byte) (PutResult, error) {
	resp, err := c.transport.Send(ctx, http.MethodPut, path, nil, value)
	if err != nil {
		return PutResult{}, err
	}
	if err := responseError(resp); err != nil {
		return PutResult{}, err
	}
	msg, err := decodeReply(c.serializer, resp.Body, common.MsgTPut)
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{Writer: msg.Writer, LogSeq: msg.Seq}, nil
}

func (c *Client) get(ctx context.Context, path string) (*Record, error) {
	resp, err := c.transport.Send(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}

	record := &Record{Entry: store.Entry{Value: resp.Body}}
	if record.LogSeq, err = strconv.ParseUint(resp.Header.Get(HeaderSeq), 10, 64); err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", HeaderSeq, err)
	}
	if values := resp.Header.Values(HeaderKey); len(values) > 0 {
		key := values[0]
		record.Key = &key
	}
	if v := resp.Header.Get(HeaderVersion); v != "" {
		version, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header: %w", HeaderVersion, err)
		}
		record.Version = &version
	}
	return record, nil
}

// responseError turns a non 200 response into a *store.Error
func responseError(resp *transport.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return store.ParseError(string(resp.Body))
}
