package client

import (
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/serializer"
	"github.com/lni/dragonboat/v4/logger"
	"net/url"
	"strconv"
	"strings"
)

var (
	Logger = logger.GetLogger("rpc")
)

// Path builds a request path from escaped segments, e.g. Path("promise", db, "3", "17")
func Path(segments ...string) string {
	var sb strings.Builder
	for _, s := range segments {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(s))
	}
	return sb.String()
}

// u64 formats a number as path segment
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// decodeReply deserializes a reply body and checks its type.
// An error reply is returned together with the *store.Error it carries, so
// callers can still read its fields (e.g. the promise behind a rejection).
func decodeReply(s serializer.IRPCSerializer, body []byte, expected common.MessageType) (*common.Message, error) {
	// Deserialize the response
	resp := &common.Message{}
	if err := s.Deserialize(body, resp); err != nil {
		return nil, fmt.Errorf("RPC - Error: %s", err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError {
		return resp, store.ParseError(resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != expected {
		return nil, fmt.Errorf("RPC - Unexpected message type: %s, expected %s", resp.MsgType, expected)
	}

	return resp, nil
}
