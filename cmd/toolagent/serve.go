package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/agent/tools"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/fnagent"
	"github.com/wilhg/toolagent/pkg/mcpserver"
)

func newServeCommand(opt *Options) *cobra.Command {
	var exposeMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := newBackend(ctx, *opt)
			if err != nil {
				return err
			}
			defer b.close()
			var mcpHandler http.Handler
			if exposeMCP {
				srv, err := newMCPServer(*opt)
				if err != nil {
					return err
				}
				mcpHandler = srv.Handler()
			}
			return serve(ctx, opt.Addr, buildMux(b, mcpHandler))
		},
	}
	cmd.Flags().StringVar(&opt.Addr, "addr", opt.Addr, "http listen address")
	cmd.Flags().BoolVar(&exposeMCP, "mcp", false, "also serve the built-in tools over MCP at /mcp")
	return cmd
}

func newMCPServer(opt Options) (*mcpserver.Server, error) {
	if err := tools.Register(os.DirFS(opt.Workspace)); err != nil {
		return nil, err
	}
	var allowed map[string]bool
	if len(opt.Permissions) > 0 {
		allowed = map[string]bool{}
		for _, p := range opt.Permissions {
			allowed[p] = true
		}
	}
	srv := mcpserver.New("toolagent", version, mcpserver.WithAllowedPermissions(allowed))
	if err := srv.AddRegistered(); err != nil {
		return nil, err
	}
	return srv, nil
}

// serve runs handler on addr until ctx is done, then drains in-flight requests.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(handler, "toolagent"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		klog.FromContext(ctx).Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// session serializes turns on one agent; the agent itself does not allow concurrent turns.
type session struct {
	mu      sync.Mutex
	agent   *fnagent.Agent
	removed bool
}

// acquire locks the session for one operation. A session deleted while the caller waited
// is reported as not found.
func (sess *session) acquire(id string) error {
	sess.mu.Lock()
	if sess.removed {
		sess.mu.Unlock()
		return notFound(id)
	}
	return nil
}

// sessions maps ids to live agents. With a store, a session missing from the map but present
// in the store is resumed on first use, so sessions outlive the process.
type sessions struct {
	*backend
	mu   sync.Mutex
	byID map[string]*session
}

func notFound(id string) error {
	return errmodel.Validation("not_found", "unknown session", map[string]any{"session_id": id})
}

func (s *sessions) create(ctx context.Context) (string, *session, error) {
	id := uuid.NewString()
	a, err := s.newAgent(ctx, id)
	if err != nil {
		return "", nil, err
	}
	sess := &session{agent: a}
	s.mu.Lock()
	s.byID[id] = sess
	s.mu.Unlock()
	return id, sess, nil
}

func (s *sessions) get(ctx context.Context, id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byID[id]; ok {
		return sess, nil
	}
	if s.store == nil || id == "" {
		return nil, notFound(id)
	}
	ok, err := s.store.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(id)
	}
	a, err := s.newAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	sess := &session{agent: a}
	s.byID[id] = sess
	klog.FromContext(ctx).V(2).Info("resumed session", "session_id", id)
	return sess, nil
}

// remove waits for a turn in flight on the session, so the turn cannot write the transcript
// back after it is cleared.
func (s *sessions) remove(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, live := s.byID[id]
	s.mu.Unlock()
	if live {
		sess.mu.Lock()
		defer sess.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := false
	if s.store != nil {
		var err error
		if stored, err = s.store.Exists(ctx, id); err != nil {
			return err
		}
		if stored {
			if err := s.store.Replace(ctx, id, nil); err != nil {
				return err
			}
		}
	}
	if !live && !stored {
		return notFound(id)
	}
	if live {
		sess.removed = true
		if s.byID[id] == sess {
			delete(s.byID, id)
		}
	}
	return nil
}

// lookup returns the named session, or a new one when id is empty.
func (s *sessions) lookup(ctx context.Context, id string) (string, *session, error) {
	if id == "" {
		return s.create(ctx)
	}
	sess, err := s.get(ctx, id)
	return id, sess, err
}

type chatRequest struct {
	SessionID string        `json:"session_id,omitempty"`
	Message   string        `json:"message"`
	History   []llm.Message `json:"history,omitempty"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	*agent.Response
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errmodel.Validation("bad_request", "request body is not valid JSON", map[string]any{"error": err.Error()})
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func buildMux(b *backend, mcpHandler http.Handler) http.Handler {
	s := &sessions{backend: b, byID: map[string]*session{}}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		id, _, err := s.create(r.Context())
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		writeJSON(w, sessionRequest{SessionID: id})
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := s.remove(r.Context(), r.PathValue("id")); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := decode(r, &req); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		id, sess, err := s.lookup(r.Context(), req.SessionID)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		if err := sess.acquire(id); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		resp, err := sess.agent.Chat(r.Context(), req.Message, req.History)
		sess.mu.Unlock()
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		writeJSON(w, chatResponse{SessionID: id, Response: resp})
	})

	mux.HandleFunc("POST /api/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			errmodel.WriteHTTP(w, r, errmodel.System("streaming_unsupported", "response writer cannot stream", nil, nil))
			return
		}
		var req chatRequest
		if err := decode(r, &req); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		id, sess, err := s.lookup(r.Context(), req.SessionID)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		if err := sess.acquire(id); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		defer sess.mu.Unlock()
		stream, err := sess.agent.StreamChat(r.Context(), req.Message, req.History)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		for d := range stream.Deltas() {
			b, _ := json.Marshal(d)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
		resp, err := stream.Wait(r.Context())
		if err != nil {
			b, _ := json.Marshal(errmodel.From(err))
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
		} else {
			b, _ := json.Marshal(chatResponse{SessionID: id, Response: resp})
			fmt.Fprintf(w, "event: done\ndata: %s\n\n", b)
		}
		flusher.Flush()
	})

	mux.HandleFunc("POST /api/reset", func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if err := decode(r, &req); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		sess, err := s.get(r.Context(), req.SessionID)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		if err := sess.acquire(req.SessionID); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		err = sess.agent.Reset(r.Context())
		sess.mu.Unlock()
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session_id")
		sess, err := s.get(r.Context(), id)
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		if err := sess.acquire(id); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		h, err := sess.agent.ChatHistory(r.Context())
		sess.mu.Unlock()
		if err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		if h == nil {
			h = []llm.Message{}
		}
		writeJSON(w, map[string]any{"messages": h})
	})

	if mcpHandler != nil {
		mux.Handle("/mcp", mcpHandler)
	}
	return mux
}
