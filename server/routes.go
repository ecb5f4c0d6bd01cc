package server

const (
	// Tenant-scoped routes: admission rewrites a tenant domain's public
	// paths into the /t/{tenant} namespace before they reach the mux.
	RouteOIDCStart      = "/t/{tenant}/auth/oidc/start"
	RouteOIDCCallback   = "/t/{tenant}/callback/oidc"
	RouteTransfer       = "/t/{tenant}/session-transfer"
	RouteWidgetIdentify = "/t/{tenant}/api/widget/identify"

	RouteHealthz        = "/healthz"
	RouteTenantNotFound = "/tenant-not-found"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteOIDCStart, ChainMiddleware(s.OIDCStartHandler(), s.HTMLMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteOIDCCallback, ChainMiddleware(s.OIDCCallbackHandler(), s.HTMLMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteOIDCCallback, ChainMiddleware(s.OIDCCallbackHandler(), s.HTMLMiddleware()...)) // For form_post response mode
	s.RegisterRouteFunc("GET "+RouteTransfer, ChainMiddleware(s.SessionTransferHandler(), s.HTMLMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteWidgetIdentify, ChainMiddleware(s.WidgetIdentifyHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("OPTIONS "+RouteWidgetIdentify, ChainMiddleware(s.WidgetIdentifyHandler(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
	// Methodless: any method on an unrecognized host lands here.
	s.RegisterRouteFunc(RouteTenantNotFound, ChainMiddleware(s.TenantNotFoundHandler(), s.HTMLMiddleware()...))

	// Everything else is the application's: tenant-scoped pages and the
	// main-domain public surface.
	s.RegisterRouteHandler("/", s.app)
}
