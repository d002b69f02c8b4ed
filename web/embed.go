package web

import "embed"

// TemplateFS holds the dashboard templates rendered by the publisher.
//
//go:embed templates/*.html
var TemplateFS embed.FS
