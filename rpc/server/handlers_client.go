package server

import (
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/rpc/client"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"io"
	"net/http"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Client api
// --------------------------------------------------------------------------

// handlePut serves PUT /{db}/{key} and PUT /{db}/{key}/{version}
func (s *RPCServer) handlePut(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	db, key := r.PathValue("db"), r.PathValue("key")

	var seq uint64
	entry, err := readEntry(r, &key)
	if err == nil {
		seq, err = s.write(r.Context(), db, entry)
	}

	observeRequest("put", err, start)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writePut(w, seq)
}

// handleAppend serves PUT /{db}. Concurrent appends to one database share a row.
func (s *RPCServer) handleAppend(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	db := r.PathValue("db")

	var seq uint64
	body, err := io.ReadAll(r.Body)
	if err == nil {
		appendedBodies.Inc()
		seq, err = s.batcher.Append(r.Context(), db, body)
	}

	observeRequest("append", err, start)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writePut(w, seq)
}

// handleGet serves GET /{db}/{ref}. A ref made of digits only is a log seq,
// anything else is a key.
func (s *RPCServer) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	db, ref := r.PathValue("db"), r.PathValue("ref")

	var row *store.Row
	var err error
	if logSeq, ok := parseLogSeqRef(ref); ok {
		row, err = s.getSeq(r.Context(), db, logSeq)
	} else {
		row, err = s.getKey(r.Context(), db, ref)
	}

	observeRequest("get", err, start)
	if err != nil {
		writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set(client.HeaderSeq, strconv.FormatUint(row.LogSeq, 10))
	if row.Key != nil {
		h.Set(client.HeaderKey, *row.Key)
	}
	if row.Version != nil {
		h.Set(client.HeaderVersion, strconv.FormatUint(*row.Version, 10))
	}
	_, _ = w.Write(row.Value)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readEntry builds the entry of a keyed write from the path and the body
func readEntry(r *http.Request, key *string) (store.Entry, error) {
	entry := store.Entry{Key: key}
	if v := r.PathValue("version"); v != "" {
		version, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return store.Entry{}, store.Errorf(store.RetCFailed, "invalid version %q", v)
		}
		entry.Version = &version
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return store.Entry{}, fmt.Errorf("failed to read request body: %w", err)
	}
	entry.Value = body
	return entry, nil
}

// parseLogSeqRef reports whether ref is a log seq
func parseLogSeqRef(ref string) (uint64, bool) {
	if ref == "" {
		return 0, false
	}
	for i := 0; i < len(ref); i++ {
		if ref[i] < '0' || ref[i] > '9' {
			return 0, false
		}
	}
	logSeq, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		// too many digits for a log seq, no slot can be that large
		return store.Infinity, true
	}
	return logSeq, true
}

// writePut replies to a successful write with the writer and the slot
func (s *RPCServer) writePut(w http.ResponseWriter, logSeq uint64) {
	writer := s.config.Self()
	w.Header().Set(client.HeaderWriter, writer)
	w.Header().Set(client.HeaderSeq, strconv.FormatUint(logSeq, 10))
	if err := s.writeMessage(w, common.NewPutResponse(writer, logSeq)); err != nil {
		writeError(w, err)
	}
}
