package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ethereum/esp-website-sub001/internal/db"
	"github.com/ethereum/esp-website-sub001/internal/models"
)

// docServer is a small OxiDB stand-in: equality queries, newest-first find,
// skip and limit.
type docServer struct {
	mu      sync.Mutex
	nextID  float64
	colls   map[string][]map[string]any
	indexes []string
}

func startDocServer(t *testing.T) (*docServer, *db.Pool) {
	t.Helper()
	s := &docServer{colls: map[string][]map[string]any{}}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()

	pool, err := db.NewPool(context.Background(), ln.Addr().String(), 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return s, pool
}

func (s *docServer) serve(conn net.Conn) {
	defer conn.Close()
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		payload := make([]byte, binary.LittleEndian.Uint32(lenBuf))
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		var req map[string]any
		if json.Unmarshal(payload, &req) != nil {
			return
		}
		data, _ := json.Marshal(s.handle(req))
		out := make([]byte, 4+len(data))
		binary.LittleEndian.PutUint32(out, uint32(len(data)))
		copy(out[4:], data)
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

func (s *docServer) handle(req map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, _ := req["collection"].(string)
	query, _ := req["query"].(map[string]any)

	switch req["cmd"] {
	case "ping":
		return map[string]any{"ok": true, "data": "pong"}
	case "create_index", "create_unique_index", "create_composite_index":
		s.indexes = append(s.indexes, req["cmd"].(string))
		return map[string]any{"ok": true, "data": "ok"}
	case "insert":
		doc, _ := req["doc"].(map[string]any)
		s.nextID++
		doc["_id"] = s.nextID
		s.colls[coll] = append(s.colls[coll], doc)
		return map[string]any{"ok": true, "data": map[string]any{"id": s.nextID}}
	case "find_one":
		for _, d := range s.colls[coll] {
			if matches(d, query) {
				return map[string]any{"ok": true, "data": d}
			}
		}
		return map[string]any{"ok": true, "data": nil}
	case "count":
		n := 0
		for _, d := range s.colls[coll] {
			if matches(d, query) {
				n++
			}
		}
		return map[string]any{"ok": true, "data": map[string]any{"count": n}}
	case "find":
		var out []any
		docs := s.colls[coll]
		for i := len(docs) - 1; i >= 0; i-- {
			if matches(docs[i], query) {
				out = append(out, docs[i])
			}
		}
		if skip, ok := req["skip"].(float64); ok {
			out = out[min(int(skip), len(out)):]
		}
		if limit, ok := req["limit"].(float64); ok && int(limit) < len(out) {
			out = out[:int(limit)]
		}
		return map[string]any{"ok": true, "data": out}
	}
	return map[string]any{"ok": false, "error": "unknown command"}
}

func matches(doc, query map[string]any) bool {
	for k, v := range query {
		if doc[k] != v {
			return false
		}
	}
	return true
}

func TestAttemptRepo(t *testing.T) {
	srv, pool := startDocServer(t)
	r := NewAttemptRepo(pool)
	ctx := context.Background()

	require.NoError(t, r.EnsureIndexes(ctx))
	srv.mu.Lock()
	assert.Equal(t, []string{"create_unique_index", "create_index", "create_composite_index"}, srv.indexes)
	srv.mu.Unlock()

	for _, a := range []models.Attempt{
		{AttemptID: "a1", RoundID: "small-grants", Status: models.AttemptComplete, RecordID: "00Q1"},
		{AttemptID: "a2", RoundID: "project-grants", Status: models.AttemptPartial, RecordID: "00Q2"},
		{AttemptID: "a3", RoundID: "project-grants", Status: models.AttemptPartial, RecordID: "00Q3"},
	} {
		a := a
		id, err := r.Create(ctx, &a)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	got, err := r.FindByAttemptID(ctx, "a2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2", got.ID)
	assert.Equal(t, "00Q2", got.RecordID)

	missing, err := r.FindByAttemptID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, total, err := r.List(ctx, AttemptFilter{Status: models.AttemptPartial, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 1)
	assert.Equal(t, "a3", list[0].AttemptID)

	list, total, err = r.List(ctx, AttemptFilter{RoundID: "small-grants"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, models.AttemptComplete, list[0].Status)
}

func TestOperatorRepo(t *testing.T) {
	_, pool := startDocServer(t)
	r := NewOperatorRepo(pool)
	ctx := context.Background()
	require.NoError(t, r.EnsureIndexes(ctx))

	id, err := r.Create(ctx, &models.Operator{Email: "ops@example.org", Name: "Ops"})
	require.NoError(t, err)

	byEmail, err := r.FindByEmail(ctx, "ops@example.org")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, id, byEmail.ID)

	byID, err := r.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "Ops", byID.Name)

	none, err := r.FindByEmail(ctx, "other@example.org")
	require.NoError(t, err)
	assert.Nil(t, none)
}
