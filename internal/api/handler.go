package api

import (
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gorilla/websocket"

	"aeropark-backend/config"
	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/ledger"
	"aeropark-backend/internal/notification"
	"aeropark-backend/internal/occupancy"
	"aeropark-backend/internal/registry"
	"aeropark-backend/internal/scanner"
	"aeropark-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	registry  *registry.Registry
	ledger    *ledger.Ledger
	processor *occupancy.Processor
	scanner   *scanner.Service
	hub       *notification.Hub
	clock     clock.Clock
	webpush   *webpush.Options
	parking   config.ParkingConfig
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// Deps lists everything the handlers need.
type Deps struct {
	Store     store.Store
	Registry  *registry.Registry
	Ledger    *ledger.Ledger
	Processor *occupancy.Processor
	Scanner   *scanner.Service
	Hub       *notification.Hub
	Clock     clock.Clock
	WebPush   *webpush.Options
	Parking   config.ParkingConfig
	Logger    *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:     d.Store,
		registry:  d.Registry,
		ledger:    d.Ledger,
		processor: d.Processor,
		scanner:   d.Scanner,
		hub:       d.Hub,
		clock:     d.Clock,
		webpush:   d.WebPush,
		parking:   d.Parking,
		logger:    d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers on any origin may watch the public parking state.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
