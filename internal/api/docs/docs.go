// Package docs serves the embedded OpenAPI description and a Swagger UI page.
package docs

import (
	"embed"
	"net/http"
)

//go:embed index.html openapi.yaml
var assets embed.FS

func Handler() http.Handler {
	return http.FileServer(http.FS(assets))
}
