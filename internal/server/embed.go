package server

import (
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates
var templateFS embed.FS

// loadTemplates は埋め込みHTMLテンプレートを読み込む
func loadTemplates() (*template.Template, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("埋め込みテンプレートの読み込みに失敗: %w", err)
	}
	return tmpl, nil
}
