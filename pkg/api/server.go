package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/sparkswap-broker/pkg/blockorder"
	"github.com/uhyunpark/sparkswap-broker/pkg/engine"
	"github.com/uhyunpark/sparkswap-broker/pkg/fill"
	"github.com/uhyunpark/sparkswap-broker/pkg/interchain"
	"github.com/uhyunpark/sparkswap-broker/pkg/models"
	"github.com/uhyunpark/sparkswap-broker/pkg/order"
	sm "github.com/uhyunpark/sparkswap-broker/pkg/statemachine"
	"github.com/uhyunpark/sparkswap-broker/pkg/util"
)

// Broker is the block order surface the API exposes.
type Broker interface {
	Get(id string) (blockorder.BlockOrder, error)
	CreateOrder(ctx context.Context, blockOrderID string, params models.OrderParams) (*order.Machine, error)
	CreateFill(ctx context.Context, blockOrderID string, o models.FillOrder, fillAmount decimal.Decimal) (*fill.Machine, error)
}

// PreimageService answers payment channel nodes asking for a swap preimage.
type PreimageService interface {
	GetPreimage(ctx context.Context, req interchain.PreimageRequest) (engine.PaymentResult, error)
}

type Config struct {
	Broker    Broker
	Preimages PreimageService
	Hub       *Hub
	Logger    *zap.SugaredLogger
	// AllowedOrigins defaults to the local UI ports.
	AllowedOrigins []string
	// RequestTimeout bounds each REST handler; zero means no limit.
	RequestTimeout time.Duration
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg    Config
	router *mux.Router
	hub    *Hub
	logger *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	logger := util.OrNop(cfg.Logger).Named("api")
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
		hub:    hub,
		logger: logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Interchain preimage requests from payment channel nodes
	api.HandleFunc("/preimage", s.handleGetPreimage).Methods("POST")

	// Block orders
	api.HandleFunc("/blockorders/{blockOrderId}", s.handleGetBlockOrder).Methods("GET")
	api.HandleFunc("/blockorders/{blockOrderId}/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/blockorders/{blockOrderId}/fills", s.handleCreateFill).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the routes wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub returns the WebSocket hub state changes are published to.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	// Start WebSocket hub
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Infow("api_stopped")
		return nil
	}
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetPreimage(w http.ResponseWriter, r *http.Request) {
	var req interchain.PreimageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	res, err := s.cfg.Preimages.GetPreimage(ctx, req)
	switch {
	case errors.Is(err, interchain.ErrInvalidRequest):
		respondError(w, http.StatusBadRequest, "invalid preimage request", err.Error())
		return
	case err != nil:
		// The caller may retry; the swap has not been refused.
		s.logger.Warnw("preimage_unavailable", "hash", req.PaymentHash, "err", err)
		respondError(w, http.StatusServiceUnavailable, "preimage unavailable", err.Error())
		return
	}

	respondJSON(w, res)
}

func (s *Server) handleGetBlockOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["blockOrderId"]

	bo, err := s.cfg.Broker.Get(id)
	if errors.Is(err, blockorder.ErrNotFound) {
		respondError(w, http.StatusNotFound, "block order not found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load block order", err.Error())
		return
	}

	respondJSON(w, bo)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	blockOrderID := mux.Vars(r)["blockOrderId"]

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	params, err := parseOrderParams(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	m, err := s.cfg.Broker.CreateOrder(ctx, blockOrderID, params)
	if err != nil {
		s.logger.Warnw("create_order_failed", "blockOrderId", blockOrderID, "err", err)
		respondError(w, http.StatusBadGateway, "failed to create order", err.Error())
		return
	}

	o := m.Order()
	respondJSONStatus(w, http.StatusCreated, CreateOrderResponse{
		BlockOrderID: blockOrderID,
		OrderID:      o.OrderID,
		State:        string(m.State()),
	})
}

func (s *Server) handleCreateFill(w http.ResponseWriter, r *http.Request) {
	blockOrderID := mux.Vars(r)["blockOrderId"]

	var req CreateFillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	fo, fillAmount, err := parseFill(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fill", err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	m, err := s.cfg.Broker.CreateFill(ctx, blockOrderID, fo, fillAmount)
	if err != nil {
		s.logger.Warnw("create_fill_failed", "blockOrderId", blockOrderID, "order", fo.OrderID, "err", err)
		respondError(w, http.StatusBadGateway, "failed to create fill", err.Error())
		return
	}

	f := m.Fill()
	respondJSONStatus(w, http.StatusCreated, CreateFillResponse{
		BlockOrderID: blockOrderID,
		FillID:       f.FillID,
		State:        string(m.State()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status": "ok",
	})
}

func parseOrderParams(req CreateOrderRequest) (models.OrderParams, error) {
	side, err := models.ParseSide(req.Side)
	if err != nil {
		return models.OrderParams{}, err
	}
	base, err := models.ParseAmount("baseAmount", req.BaseAmount)
	if err != nil {
		return models.OrderParams{}, err
	}
	counter, err := models.ParseAmount("counterAmount", req.CounterAmount)
	if err != nil {
		return models.OrderParams{}, err
	}
	p := models.OrderParams{
		Side:          side,
		BaseSymbol:    req.BaseSymbol,
		CounterSymbol: req.CounterSymbol,
		BaseAmount:    base,
		CounterAmount: counter,
	}
	return p, p.Validate()
}

func parseFill(req CreateFillRequest) (models.FillOrder, decimal.Decimal, error) {
	p, err := parseOrderParams(CreateOrderRequest{
		Side:          req.Order.Side,
		BaseSymbol:    req.Order.BaseSymbol,
		CounterSymbol: req.Order.CounterSymbol,
		BaseAmount:    req.Order.BaseAmount,
		CounterAmount: req.Order.CounterAmount,
	})
	if err != nil {
		return models.FillOrder{}, decimal.Zero, err
	}
	if req.Order.OrderID == "" {
		return models.FillOrder{}, decimal.Zero, errors.New("order.orderId is required")
	}
	amount, err := models.ParseAmount("fillAmount", req.FillAmount)
	if err != nil {
		return models.FillOrder{}, decimal.Zero, err
	}
	fo := models.FillOrder{
		OrderID:       req.Order.OrderID,
		BaseSymbol:    p.BaseSymbol,
		CounterSymbol: p.CounterSymbol,
		Side:          p.Side,
		BaseAmount:    p.BaseAmount,
		CounterAmount: p.CounterAmount,
	}
	return fo, amount, nil
}

// ==============================
// WebSocket Publishing
// ==============================

// Publish pushes a state change to the "orders" or "fills" channel. It has
// the shape of the block order worker's change hook.
func (h *Hub) Publish(snap sm.Snapshot) {
	h.BroadcastToChannel(snap.Kind+"s", StateUpdate{
		Type:  snap.Kind,
		Key:   snap.Key,
		State: string(snap.State),
		Error: snap.Error,
	})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   err,
		Message: message,
	})
}
