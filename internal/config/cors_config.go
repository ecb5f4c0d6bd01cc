package config

import (
	"os"
	"strings"
)

type Cors struct{}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

// The widget identify endpoint is called cross-origin from embedding sites,
// so the default is wildcard. WIDGET_ALLOWED_ORIGINS narrows it.
func (Cors) GetAllowedOrigins() AllowedOrigins {
	raw := os.Getenv("WIDGET_ALLOWED_ORIGINS")
	if raw == "" {
		return AllowedOrigins{"*": nullValue{}}
	}
	origins := AllowedOrigins{}
	for _, origin := range strings.Split(raw, ",") {
		origins[strings.TrimSpace(origin)] = nullValue{}
	}
	return origins
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, OPTIONS"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type"
}
