package api

import (
	"context"
	stderrors "errors"

	"github.com/orbweave/coordinator/internal/common/errors"
	"github.com/orbweave/coordinator/internal/common/logger"
	"github.com/orbweave/coordinator/internal/dispatch"
	"github.com/orbweave/coordinator/internal/eventlog"
	"github.com/orbweave/coordinator/internal/model"
	"github.com/orbweave/coordinator/internal/registry"
	"github.com/orbweave/coordinator/internal/schema"
	"github.com/orbweave/coordinator/internal/session"
	"github.com/orbweave/coordinator/internal/store"
	"github.com/orbweave/coordinator/internal/streaming"
)

// Handler holds every component the HTTP surface routes requests to.
type Handler struct {
	store      store.Store
	sessions   *session.Machine
	events     *eventlog.Log
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	stream     *streaming.Server
	validator  *schema.Validator
	log        *logger.Logger
}

// NewHandler constructs a Handler.
func NewHandler(st store.Store, sm *session.Machine, events *eventlog.Log, reg *registry.Registry, disp *dispatch.Dispatcher, stream *streaming.Server, validator *schema.Validator, log *logger.Logger) *Handler {
	return &Handler{store: st, sessions: sm, events: events, registry: reg, dispatcher: disp, stream: stream, validator: validator, log: log}
}

// notFoundOrInternal maps a store.ErrNotFound into notFound, leaving any
// other error to fall through to ErrorHandler's internal-error path.
func (h *Handler) notFoundOrInternal(err error, notFound *errors.AppError) error {
	if stderrors.Is(err, store.ErrNotFound) {
		return notFound
	}
	return errors.InternalError("store operation failed", err)
}

// blueprintLookup adapts h.store.GetBlueprint to hooks.ValidateNoRecursion's
// lookup signature, used when registering or updating an agent.
func (h *Handler) blueprintLookup(name string) (*model.Blueprint, bool) {
	bp, err := h.store.GetBlueprint(context.Background(), name)
	if err != nil {
		return nil, false
	}
	return bp, true
}
