// Package swagger serves the console API's OpenAPI document and a Swagger UI
// page whose assets are embedded in the binary.
package swagger

import (
	"context"
	"net/http"

	swaggerFiles "github.com/swaggo/files/v2"
)

const assetsPrefix = "/api-docs/assets/"

// Register attaches the API docs routes to mux.
// Routes:
//
//	GET /api-docs           -> Swagger UI HTML
//	GET /api-docs/assets/*  -> embedded Swagger UI bundle
//	GET /openapi.yaml       -> embedded OpenAPI document
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	mux.HandleFunc("GET /api-docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})

	mux.Handle("GET "+assetsPrefix, http.StripPrefix(assetsPrefix, http.FileServerFS(swaggerFiles.FS)))

	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})
}

const indexHTML = `<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>birdscore judge console API</title>
    <link rel="stylesheet" type="text/css" href="` + assetsPrefix + `swagger-ui.css">
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="` + assetsPrefix + `swagger-ui-bundle.js" charset="utf-8"></script>
    <script>
      window.onload = function () {
        window.ui = SwaggerUIBundle({ url: '/openapi.yaml', dom_id: '#swagger-ui', deepLinking: true });
      };
    </script>
  </body>
</html>`
