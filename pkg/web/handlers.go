package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mbrandt/authkit/pkg/flow"
	"github.com/mbrandt/authkit/pkg/kratos"
	"github.com/mbrandt/authkit/pkg/oauth2"
)

type flowView struct {
	State  string              `json:"state"`
	Notice string              `json:"notice,omitempty"`
	Flow   *kratos.Flow        `json:"flow,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func renderFlow(machine *flow.Machine) flowView {
	view := flowView{
		State:  machine.State().String(),
		Notice: machine.Notice(),
		Flow:   machine.Flow(),
	}
	if view.Flow != nil {
		if errs := view.Flow.FieldErrors(); len(errs) > 0 {
			view.Errors = errs
		}
	}
	return view
}

func (s *Server) SessionEndpoint(c echo.Context) error {
	ui, err := s.uiSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	session := ui.auth.Refresh(c.Request().Context())
	if session == nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"authenticated": false})
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) StartFlowEndpoint(c echo.Context) error {
	ui, err := s.uiSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	kind, err := kratos.ParseFlowKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	machine := ui.machineFor(kind)
	if err := machine.Init(c.Request().Context(), c.QueryParam("flow")); err != nil {
		if errors.Is(err, flow.ErrSuperseded) {
			return c.NoContent(http.StatusConflict)
		}
		return echo.NewHTTPError(http.StatusBadGateway, "could not initialize flow, please try again")
	}

	return c.JSON(http.StatusOK, renderFlow(machine))
}

type submitRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

func (s *Server) SubmitFlowEndpoint(c echo.Context) error {
	ui, err := s.uiSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	kind, err := kratos.ParseFlowKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid submission body")
	}

	machine := ui.machineFor(kind)
	session, err := machine.Submit(c.Request().Context(), flow.Credentials{
		Identifier: req.Identifier,
		Password:   req.Password,
		Email:      req.Email,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
	})

	var validationErr *kratos.ValidationError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, echo.Map{"session": session})
	case errors.As(err, &validationErr):
		return c.JSON(http.StatusBadRequest, renderFlow(machine))
	case errors.Is(err, kratos.ErrFlowNotFound):
		// the machine already re-created the flow; the client renders
		// the fresh one with the expiry notice
		return c.JSON(http.StatusGone, renderFlow(machine))
	case errors.Is(err, flow.ErrNoActiveFlow):
		return echo.NewHTTPError(http.StatusConflict, "no flow loaded, initialize first")
	case errors.Is(err, kratos.ErrMissingCSRFNode):
		return echo.NewHTTPError(http.StatusBadGateway, "flow is missing its anti-CSRF token")
	case errors.Is(err, flow.ErrSuperseded):
		return c.NoContent(http.StatusConflict)
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "submission failed, please try again")
	}
}

func (s *Server) OAuthStartEndpoint(c echo.Context) error {
	ui, err := s.uiSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	attempt, err := ui.rp.Begin()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start authorization")
	}
	return c.Redirect(http.StatusFound, attempt.AuthURL)
}

const successPage = `<!doctype html>
<html>
<head><meta http-equiv="refresh" content="%d;url=/"></head>
<body><p>Authorization successful. Redirecting...</p></body>
</html>`

func (s *Server) CallbackEndpoint(c echo.Context) error {
	ui, err := s.uiSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	_, err = ui.rp.HandleCallback(c.Request().Context(), c.QueryParams())
	if err == nil {
		delay := int(oauth2.SuccessRedirectDelay.Seconds())
		return c.HTML(http.StatusOK, fmt.Sprintf(successPage, delay))
	}

	var serverErr *oauth2.Error
	switch {
	case errors.Is(err, oauth2.ErrMissingCode),
		errors.Is(err, oauth2.ErrStateMismatch),
		errors.Is(err, oauth2.ErrNoPendingAttempt):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &serverErr):
		return echo.NewHTTPError(http.StatusBadGateway, serverErr.Description)
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "token exchange failed")
	}
}

func (s *Server) LogoutEndpoint(c echo.Context) error {
	ui, err := s.uiSession(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := ui.auth.Logout(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"authenticated": false})
}
