package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/pulseboard/authgate/widget"
)

const maxIdentifyBodySize = 64 << 10

type widgetErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WidgetIdentifyHandler authenticates an embedding site's end-user. The
// response is always JSON: the session token plus a user projection on
// success, or a short code and generic message on failure.
func (s *Server) WidgetIdentifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			return // CORS preflight, already answered by the middleware
		}

		tenant, err := s.tenantFromPath(r)
		if err != nil {
			writeWidgetError(w, http.StatusInternalServerError, widget.CodeServerError, "could not load tenant")
			return
		}

		var req widget.IdentifyRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxIdentifyBodySize)).Decode(&req); err != nil {
			writeWidgetError(w, http.StatusBadRequest, widget.CodeValidationError, "invalid JSON body")
			return
		}

		resp, err := s.widget.Identify(tenant, &req)
		if err != nil {
			var ie *widget.IdentifyError
			if errors.As(err, &ie) {
				s.logger.Warn().Err(err).Str("tenant", tenant.ID).Msg("widget identify rejected")
				writeWidgetError(w, ie.Status, ie.Code, ie.Message)
				return
			}
			s.logger.Error().Err(err).Str("tenant", tenant.ID).Msg("widget identify failed")
			writeWidgetError(w, http.StatusInternalServerError, widget.CodeServerError, "could not identify user")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			s.logger.Error().Err(err).Msg("widget identify encode failed")
		}
	}
}

func writeWidgetError(w http.ResponseWriter, status int, code, message string) {
	var body widgetErrorBody
	body.Error.Code = code
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
