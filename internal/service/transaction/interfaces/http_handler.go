// internal/service/transaction/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/service/transaction/application"
	"fraudguard/internal/service/transaction/domain"
)

// TransactionHandler 封装了 transaction 服务的 HTTP 处理器
type TransactionHandler struct {
	service *application.TransactionService
}

func NewTransactionHandler(service *application.TransactionService) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// RegisterRoutes 在路由器上注册所有路由
func (h *TransactionHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/transactions", h.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}", h.handleGet).Methods(http.MethodGet)
}

func (h *TransactionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.CreateTransaction(ctx, &req)
	if err != nil {
		var statusCode int
		switch {
		case errors.Is(err, domain.ErrInvalidTransaction):
			statusCode = http.StatusBadRequest
		case errors.Is(err, domain.ErrAlreadyExists):
			statusCode = http.StatusConflict
		default:
			statusCode = http.StatusInternalServerError
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to create transaction")
		}
		http.Error(w, err.Error(), statusCode)
		return
	}

	writeJSON(w, http.StatusAccepted, resp)
}

func (h *TransactionHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	resp, err := h.service.GetTransaction(ctx, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.Ctx(ctx).Error().Err(err).Msg("Failed to load transaction")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
