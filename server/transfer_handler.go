package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/pulseboard/authgate/transfer"
)

// SessionTransferHandler redeems a one-time handoff token minted by the
// provisioning side and lands the owner in their new tenant with a session.
func (s *Server) SessionTransferHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.tenantFromPath(r)
		if err != nil {
			redirectWithError(w, r, loginRoute, transfer.CodeSessionFailed)
			return
		}

		result, err := s.transfer.Redeem(tenant, r.URL.Query().Get("token"))
		if err != nil {
			s.logger.Warn().Err(err).Str("tenant", tenant.ID).Msg("session transfer failed")
			redirectWithError(w, r, loginRoute, handoffErrorCode(err))
			return
		}

		s.setSessionCookies(w, r, result.Session)
		http.Redirect(w, r, result.CallbackURL, http.StatusFound)
	}
}

func handoffErrorCode(err error) string {
	var he *transfer.HandoffError
	if errors.As(err, &he) {
		return he.Code
	}
	return transfer.CodeSessionFailed
}
