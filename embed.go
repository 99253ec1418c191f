package authentifi

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the research workspace. They
// are split into a layout, the page and the partial views pushed over SSE.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the stylesheet and script served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
