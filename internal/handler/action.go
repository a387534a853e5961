package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/catalogue-reservation/internal/action"
	"github.com/iliyamo/catalogue-reservation/internal/forcededit"
	"github.com/iliyamo/catalogue-reservation/internal/middleware"
	"github.com/iliyamo/catalogue-reservation/internal/model"
	"github.com/iliyamo/catalogue-reservation/internal/repository"
)

// Starter starts actions in the background.
type Starter interface {
	StartReserve(ref model.CatalogueRef, level model.Level, note, requester string, obs action.Observer) (*action.Handle, error)
	StartUnreserve(ref model.CatalogueRef, note, requester string, obs action.Observer) (*action.Handle, error)
	StartPublish(ref model.CatalogueRef, level model.Level, requester string, obs action.Observer) (*action.Handle, error)
	StartUpload(ref model.CatalogueRef, requester string, obs action.Observer) (*action.Handle, error)
}

// PendingLister lists persisted actions.
type PendingLister interface {
	GetAll(ctx context.Context) ([]*model.PendingAction, error)
}

// CatalogueGetter reads catalogue records.
type CatalogueGetter interface {
	Get(ctx context.Context, ref model.CatalogueRef) (*model.Catalogue, error)
}

// ActionHandler exposes the reserve/publish protocol over HTTP.  All
// methods assume JWTAuth has stored the requester.  Starting an action
// waits until the authority has acknowledged it, at most AcceptTimeout,
// and then answers 202; the action itself keeps running in the background.
type ActionHandler struct {
	Actions    Starter
	Pending    PendingLister
	Catalogues CatalogueGetter
	Forced     forcededit.Manager

	AcceptTimeout time.Duration
}

func NewActionHandler(actions Starter, pending PendingLister, cats CatalogueGetter, forced forcededit.Manager) *ActionHandler {
	if actions == nil || pending == nil || cats == nil || forced == nil {
		panic("nil dependency passed to NewActionHandler")
	}
	return &ActionHandler{Actions: actions, Pending: pending, Catalogues: cats, Forced: forced, AcceptTimeout: 30 * time.Second}
}

type actionView struct {
	ID        int64   `json:"id,omitempty"`
	Kind      string  `json:"kind"`
	Catalogue string  `json:"catalogue"`
	Version   string  `json:"version"`
	Level     string  `json:"level,omitempty"`
	Requester string  `json:"requester"`
	Priority  string  `json:"priority"`
	Status    string  `json:"status"`
	LogID     *string `json:"log_id"`
	Note      string  `json:"note,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

func viewOf(a *model.PendingAction) actionView {
	v := actionView{
		ID:        a.ID,
		Kind:      string(a.Kind),
		Catalogue: a.Catalogue.Code,
		Version:   a.Catalogue.Version.String(),
		Requester: a.Requester,
		Priority:  string(a.Priority),
		Status:    string(a.Status),
		LogID:     a.RemoteLogID,
		Note:      a.Note,
	}
	if a.Level != model.LevelNone {
		v.Level = string(a.Level)
	}
	if !a.CreatedAt.IsZero() {
		v.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
		v.UpdatedAt = a.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return v
}

type actionBody struct {
	Level string `json:"level"`
	Note  string `json:"note"`
}

// parseTarget reads the :code and :version path parameters and the
// requester.  On failure it has already written the response.
func parseTarget(c echo.Context) (model.CatalogueRef, string, bool) {
	requester := middleware.Requester(c)
	if requester == "" {
		_ = c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		return model.CatalogueRef{}, "", false
	}
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid catalogue code"})
		return model.CatalogueRef{}, "", false
	}
	v, err := model.ParseVersion(c.Param("version"))
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid version"})
		return model.CatalogueRef{}, "", false
	}
	return model.CatalogueRef{Code: code, Version: v}, requester, true
}

func bindBody(c echo.Context) (actionBody, model.Level, bool) {
	var body actionBody
	if err := c.Bind(&body); err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		return body, model.LevelNone, false
	}
	level, err := model.ParseLevel(body.Level)
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid level"})
		return body, model.LevelNone, false
	}
	return body, level, true
}

// Reserve handles POST /v1/catalogues/:code/versions/:version/reserve with
// a body of {"level": "MAJOR"|"MINOR", "note": "..."}.
func (h *ActionHandler) Reserve(c echo.Context) error {
	ref, requester, ok := parseTarget(c)
	if !ok {
		return nil
	}
	body, level, ok := bindBody(c)
	if !ok {
		return nil
	}
	hd, err := h.Actions.StartReserve(ref, level, body.Note, requester, nil)
	return h.respond(c, hd, err)
}

// Unreserve handles POST /v1/catalogues/:code/versions/:version/unreserve.
func (h *ActionHandler) Unreserve(c echo.Context) error {
	ref, requester, ok := parseTarget(c)
	if !ok {
		return nil
	}
	body, _, ok := bindBody(c)
	if !ok {
		return nil
	}
	hd, err := h.Actions.StartUnreserve(ref, body.Note, requester, nil)
	return h.respond(c, hd, err)
}

// Publish handles POST /v1/catalogues/:code/versions/:version/publish with
// a body of {"level": "MAJOR"|"MINOR"}.
func (h *ActionHandler) Publish(c echo.Context) error {
	ref, requester, ok := parseTarget(c)
	if !ok {
		return nil
	}
	_, level, ok := bindBody(c)
	if !ok {
		return nil
	}
	hd, err := h.Actions.StartPublish(ref, level, requester, nil)
	return h.respond(c, hd, err)
}

// Upload handles POST /v1/catalogues/:code/versions/:version/upload.
func (h *ActionHandler) Upload(c echo.Context) error {
	ref, requester, ok := parseTarget(c)
	if !ok {
		return nil
	}
	hd, err := h.Actions.StartUpload(ref, requester, nil)
	return h.respond(c, hd, err)
}

func (h *ActionHandler) respond(c echo.Context, hd *action.Handle, err error) error {
	if err != nil {
		return actionError(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.AcceptTimeout)
	defer cancel()
	a, err := hd.Accepted(ctx)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, viewOf(a))
	case ctx.Err() != nil:
		// timed out or the client went away while checking or importing;
		// the action carries on regardless
		return c.JSON(http.StatusAccepted, echo.Map{"status": string(model.StatusStarted)})
	}
	return actionError(c, err)
}

// actionError maps orchestrator errors to responses.
func actionError(c echo.Context, err error) error {
	var busy *action.BusyError
	switch {
	case errors.Is(err, action.ErrInvalidRequest):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, action.ErrActionInFlight):
		return c.JSON(http.StatusConflict, echo.Map{"error": "another action is in flight for this catalogue version"})
	case errors.Is(err, action.ErrPrecondition):
		return c.JSON(http.StatusPreconditionFailed, echo.Map{"error": err.Error()})
	case errors.As(err, &busy):
		c.Response().Header().Set("Retry-After", "60")
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "authority busy, retry later", "action": viewOf(busy.Action)})
	case errors.Is(err, action.ErrSubmitRefused):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, action.ErrTransport):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "authority unreachable"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

// ListActions handles GET /v1/actions.  It lists every persisted action,
// optionally filtered by ?requester=.
func (h *ActionHandler) ListActions(c echo.Context) error {
	all, err := h.Pending.GetAll(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	who := c.QueryParam("requester")
	out := make([]actionView, 0, len(all))
	for _, a := range all {
		if who != "" && a.Requester != who {
			continue
		}
		out = append(out, viewOf(a))
	}
	return c.JSON(http.StatusOK, echo.Map{"actions": out})
}

// GetCatalogue handles GET /v1/catalogues/:code/versions/:version.
func (h *ActionHandler) GetCatalogue(c echo.Context) error {
	ref, _, ok := parseTarget(c)
	if !ok {
		return nil
	}
	cat, err := h.Catalogues.Get(c.Request().Context(), ref)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "catalogue version not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	out := echo.Map{
		"catalogue":            cat.Code,
		"version":              cat.Version.String(),
		"busy":                 cat.Busy,
		"needs_reconciliation": cat.NeedsReconciliation,
		"published":            cat.Published,
	}
	if cat.ReservedLevel != nil {
		out["reserved_level"] = string(*cat.ReservedLevel)
		out["reserved_by"] = cat.ReservedBy
		out["reserve_note"] = cat.ReserveNote
	}
	return c.JSON(http.StatusOK, out)
}

// ForcedEdit handles GET /v1/catalogues/:code/versions/:version/forced-edit
// and tells the requester whether provisional editing is granted to them.
func (h *ActionHandler) ForcedEdit(c echo.Context) error {
	ref, requester, ok := parseTarget(c)
	if !ok {
		return nil
	}
	g, err := h.Forced.Lookup(c.Request().Context(), ref, requester)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "grant lookup failed"})
	}
	if g == nil {
		return c.JSON(http.StatusOK, echo.Map{"granted": false})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"granted":    true,
		"level":      string(g.Level),
		"granted_at": g.GrantedAt.UTC().Format(time.RFC3339),
	})
}
