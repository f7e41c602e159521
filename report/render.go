package report

import (
	"encoding/json"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// Renderer converts an assembled payload into a deliverable document. The
// production renderers live in an external service; this module only defines
// the contract and a JSON stand-in.
type Renderer interface {
	RenderPDF(p *Payload) ([]byte, error)
	RenderXLSX(p *Payload) ([]byte, error)
}

// JSONRenderer renders the payload itself, indented. It stands in for the
// external rendering collaborator in tests and the CLI.
type JSONRenderer struct{}

func (JSONRenderer) render(p *Payload) ([]byte, error) {
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, domain.Internal(err, "report payload not serializable")
	}
	return out, nil
}

func (r JSONRenderer) RenderPDF(p *Payload) ([]byte, error) { return r.render(p) }

func (r JSONRenderer) RenderXLSX(p *Payload) ([]byte, error) { return r.render(p) }

// Render picks the renderer method for a schedule's format. Unknown formats
// fall back to PDF.
func Render(r Renderer, format string, p *Payload) ([]byte, error) {
	if format == "xlsx" {
		return r.RenderXLSX(p)
	}
	return r.RenderPDF(p)
}
