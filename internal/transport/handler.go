package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/object"
	"github.com/openendpoint/replicator/internal/storage"
)

// callbackOutcome is the wire shape a remote node posts back to the
// request's originating node once its local write has settled.
type callbackOutcome struct {
	Node     string `json:"node"`
	Ok       bool   `json:"ok"`
	Checksum []byte `json:"checksum,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

// Handler implements both halves of the remote endpoint contract: the
// receiving side (run the local write, post the outcome back) and the
// callback side (accept that posted-back outcome and deliver it to the
// matching local coordinator via the Registry).
type Handler struct {
	store      storage.ObjectStore
	registry   *Registry
	selfNodeID string
	client     *http.Client
	logger     *zap.Logger
}

// NewHandler builds the chi-routable remote endpoint handler.
func NewHandler(store storage.ObjectStore, registry *Registry, selfNodeID string, logger *zap.Logger) *Handler {
	return &Handler{
		store:      store,
		registry:   registry,
		selfNodeID: selfNodeID,
		client:     &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// Routes mounts the remote endpoint's two routes onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/internal/replicate", h.receive)
	r.Post("/internal/replicate/callback/{reqID}", h.callback)
}

// receive accepts a cast from a remote coordinator, acknowledges it
// immediately, and performs the write plus the callback asynchronously
// — the cast is fire-and-forget from the caller's perspective.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req CastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed cast request", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go h.process(req)
}

func (h *Handler) process(req CastRequest) {
	obj := &object.Object{
		PartitionID: req.PartitionID,
		Key:         req.Key,
		ReqID:       req.ReqID,
		Data:        req.Data,
		Metadata:    req.Metadata,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		checksum []byte
		err      error
	)
	token := uuid.NewString()
	if req.Method == object.Delete.String() {
		checksum, err = h.store.Delete(ctx, obj, token)
	} else {
		checksum, err = h.store.Put(ctx, obj, token)
	}

	outcome := callbackOutcome{Node: h.selfNodeID, Ok: err == nil, Checksum: checksum}
	if err != nil {
		outcome.Cause = err.Error()
		h.logger.Warn("remote write failed",
			zap.ByteString("key", req.Key),
			zap.String("node", h.selfNodeID),
			zap.Int64("req_id", req.ReqID),
			zap.Error(err))
	}

	if err := h.postCallback(req.CallbackURL, outcome); err != nil {
		h.logger.Warn("callback delivery failed",
			zap.String("callback_url", req.CallbackURL),
			zap.Error(err))
	}
}

func (h *Handler) postCallback(callbackURL string, outcome callbackOutcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal callback outcome: %w", err)
	}

	resp, err := h.client.Post(callbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// callback receives the posted-back outcome from a remote node and
// delivers it to the originating request's coordinator inbox.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	reqID, err := strconv.ParseInt(chi.URLParam(r, "reqID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid request id", http.StatusBadRequest)
		return
	}

	var outcome callbackOutcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		http.Error(w, "malformed callback", http.StatusBadRequest)
		return
	}

	var o object.Outcome
	if outcome.Ok {
		o = object.Ack(outcome.Node, outcome.Checksum)
	} else {
		o = object.Fail(outcome.Node, outcome.Cause)
	}

	h.registry.Deliver(reqID, o)
	w.WriteHeader(http.StatusOK)
}
