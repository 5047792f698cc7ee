package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirbridge/internal/platform/fhir"
)

// OperationRecorder counts FHIR interactions. telemetry.Provider satisfies it.
type OperationRecorder interface {
	FHIROperation(resourceType, operation string)
}

type Handler struct {
	svc        *Service
	capability *fhir.CapabilityBuilder
	ops        OperationRecorder
	logger     zerolog.Logger
}

func NewHandler(svc *Service, capability *fhir.CapabilityBuilder, ops OperationRecorder, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, capability: capability, ops: ops, logger: logger}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("", h.Capabilities)
	fhirGroup.GET("/metadata", h.Capabilities)

	fhirGroup.GET("/:type", h.Search)
	fhirGroup.POST("/:type", h.Create)
	fhirGroup.GET("/:type/:id", h.Read)
	fhirGroup.PUT("/:type/:id", h.Update)
	fhirGroup.DELETE("/:type/:id", h.Delete)
}

func (h *Handler) Capabilities(c echo.Context) error {
	return fhir.WriteJSON(c, http.StatusOK, h.capability.Build())
}

func (h *Handler) Search(c echo.Context) error {
	rt := c.Param("type")
	bundle, err := h.svc.Search(c.Request().Context(), rt, c.QueryParams(), h.requestURL(c))
	if err != nil {
		return h.fail(c, err)
	}
	h.record(rt, "search-type")
	return fhir.WriteJSON(c, http.StatusOK, bundle)
}

func (h *Handler) Read(c echo.Context) error {
	rt := c.Param("type")
	res, err := h.svc.Read(c.Request().Context(), rt, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	h.record(rt, "read")
	return fhir.WriteJSON(c, http.StatusOK, res)
}

func (h *Handler) Create(c echo.Context) error {
	rt := c.Param("type")
	data, err := readBody(c)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.svc.Create(c.Request().Context(), rt, data)
	if err != nil {
		return h.fail(c, err)
	}
	h.record(rt, "create")
	c.Response().Header().Set("Location", "/fhir/"+rt+"/"+res.ID())
	return fhir.WriteJSON(c, http.StatusCreated, res)
}

func (h *Handler) Update(c echo.Context) error {
	rt := c.Param("type")
	data, err := readBody(c)
	if err != nil {
		return h.fail(c, err)
	}
	res, err := h.svc.Update(c.Request().Context(), rt, c.Param("id"), data)
	if err != nil {
		return h.fail(c, err)
	}
	h.record(rt, "update")
	return fhir.WriteJSON(c, http.StatusOK, res)
}

func (h *Handler) Delete(c echo.Context) error {
	rt := c.Param("type")
	if err := h.svc.Delete(c.Request().Context(), rt, c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	h.record(rt, "delete")
	return c.NoContent(http.StatusNoContent)
}

// fail writes err as an OperationOutcome. Internal errors are logged with
// their cause; the client only sees a generic message. Transport errors
// raised by middleware are left to the server's error handler.
func (h *Handler) fail(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return err
	}
	status, outcome := fhir.ErrorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Msg("fhir request failed")
	}
	return fhir.WriteJSON(c, status, outcome)
}

func (h *Handler) record(resourceType, operation string) {
	if h.ops != nil {
		h.ops.FHIROperation(resourceType, operation)
	}
}

func (h *Handler) requestURL(c echo.Context) string {
	return h.svc.codec.BaseURL() + c.Request().URL.RequestURI()
}

// readBody decodes the request body into a JSON object.
func readBody(c echo.Context) (map[string]any, error) {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &fhir.BadRequestError{Message: fmt.Sprintf("request body is not a JSON object: %v", err)}
	}
	if data == nil {
		return nil, &fhir.BadRequestError{Message: "request body is not a JSON object"}
	}
	return data, nil
}
