// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package series

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	requestutil "github.com/taibuivan/yomira-sync/internal/platform/request"
	"github.com/taibuivan/yomira-sync/internal/platform/respond"
	"github.com/taibuivan/yomira-sync/internal/platform/validate"
	"github.com/taibuivan/yomira-sync/pkg/pagination"
)

// # Definitions & Constructors

// Handler implements the admin HTTP endpoints over the sync registry.
//
// This layer is strictly responsible for transport concerns (status codes,
// decoding, envelopes); all business rules live in [Service].
type Handler struct {
	service *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns a [chi.Router] configured with the registry routes.
//
// # Endpoints
//   - POST   /               : Register a series.
//   - POST   /bulk           : Register up to 50 series at once.
//   - GET    /               : List series with filters and pagination.
//   - POST   /update-domain  : Bulk source-domain migration.
//   - GET    /{id}           : One series with its failed tasks.
//   - PATCH  /{id}           : Partial registration update.
//   - DELETE /{id}           : Remove a series (cascades).
//   - POST   /{id}/force-scan: Schedule an immediate scan.
//   - POST   /{id}/retry     : Revive failed tasks.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/", handler.create)
	router.Post("/bulk", handler.bulkCreate)
	router.Get("/", handler.list)
	router.Post("/update-domain", handler.updateDomain)

	router.Route("/{id}", func(r chi.Router) {
		r.Get("/", handler.get)
		r.Patch("/", handler.update)
		r.Delete("/", handler.delete)
		r.Post("/force-scan", handler.forceScan)
		r.Post("/retry", handler.retry)
	})

	return router
}

// # Request Payloads

type bulkCreateRequest struct {
	Items []CreateInput `json:"items"`
}

// # Handlers

/*
Create registers a new series.

POST /api/v1/series

Description: Validates the source URL list, persists the series, and kicks
off the first scan asynchronously.

Response:
  - 201: Series: Persisted series with sources
  - 400: Validation failure (URLs, counts, interval)
  - 409: External id already registered
*/
func (handler *Handler) create(writer http.ResponseWriter, request *http.Request) {
	var input CreateInput

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	created, err := handler.service.Create(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, created)
}

/*
BulkCreate registers a batch of series.

POST /api/v1/series/bulk

Description: Duplicates and invalid items are skipped, never failing the
whole batch; the response reports created|skipped per item.

Response:
  - 201: []BulkItemResult
  - 400: Empty batch or more than 50 items
*/
func (handler *Handler) bulkCreate(writer http.ResponseWriter, request *http.Request) {
	var input bulkCreateRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	results, err := handler.service.BulkCreate(request.Context(), input.Items)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.JSON(writer, http.StatusCreated, respond.SuccessEnvelope{
		Success: true,
		Data:    map[string]any{"items": results},
	})
}

/*
List returns a filtered page of series.

GET /api/v1/series?status=&title=&page=&limit=

Response:
  - 200: Paginated []Series
  - 400: Unknown status filter
*/
func (handler *Handler) list(writer http.ResponseWriter, request *http.Request) {
	params := pagination.FromRequest(request)

	filter := Filter{
		Status:   Status(requestutil.Query(request, "status")),
		Title:    requestutil.Query(request, "title"),
		Page:     params.Page,
		PageSize: params.Limit,
	}

	items, total, err := handler.service.List(request.Context(), filter)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Paginated(writer, items, pagination.NewMeta(filter.Page, filter.PageSize, total))
}

/*
Get returns one series with its failed tasks.

GET /api/v1/series/{id}

Response:
  - 200: Detail: Series plus failed_tasks
  - 404: Unknown id
*/
func (handler *Handler) get(writer http.ResponseWriter, request *http.Request) {
	detail, err := handler.service.Get(request.Context(), requestutil.ID(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, detail)
}

/*
Update applies a partial update to a series' registration.

PATCH /api/v1/series/{id}

Description: Nil fields are left unchanged; a non-null source_urls replaces
the whole source set and resyncs the denormalized primary-source fields.

Response:
  - 200: Series: Updated series
  - 400: Validation failure
  - 404: Unknown id
*/
func (handler *Handler) update(writer http.ResponseWriter, request *http.Request) {
	var patch Patch

	if err := requestutil.DecodeJSON(request, &patch); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	updated, err := handler.service.Update(request.Context(), requestutil.ID(request, "id"), patch)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, updated)
}

/*
Delete removes a series; sources and tasks cascade.

DELETE /api/v1/series/{id}

Response:
  - 200: Confirmation message
  - 404: Unknown id
*/
func (handler *Handler) delete(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.Delete(request.Context(), requestutil.ID(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Message(writer, "Series deleted")
}

/*
ForceScan schedules an immediate scan.

POST /api/v1/series/{id}/force-scan

Description: Idempotent; a series already due or actively syncing still
returns 200.

Response:
  - 200: Confirmation message
  - 404: Unknown id
*/
func (handler *Handler) forceScan(writer http.ResponseWriter, request *http.Request) {
	if err := handler.service.ForceScan(request.Context(), requestutil.ID(request, "id")); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Message(writer, "Scan scheduled")
}

/*
Retry revives every failed task of a series.

POST /api/v1/series/{id}/retry

Response:
  - 200: {retried_count}
  - 400: No failed tasks to retry
  - 404: Unknown id
*/
func (handler *Handler) retry(writer http.ResponseWriter, request *http.Request) {
	retried, err := handler.service.RetryFailed(request.Context(), requestutil.ID(request, "id"))
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]int{"retried_count": retried})
}

/*
UpdateDomain rewrites source hostnames across the registry.

POST /api/v1/series/update-domain

Description: Dry run by default; only the hostname is replaced, path and
query survive byte-identical.

Response:
  - 200: DomainMigrationResult (preview or applied counts)
  - 400: Validation failure
*/
func (handler *Handler) updateDomain(writer http.ResponseWriter, request *http.Request) {
	var input DomainMigrationInput

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	result, err := handler.service.MigrateDomain(request.Context(), input)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, result)
}
