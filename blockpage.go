package urlgate

import (
	"fmt"
	"html/template"
	"io"
	"strings"
)

// BlockPage renders the HTML document returned to clients whose
// request was classified as malicious.
type BlockPage struct {
	template *template.Template
}

// BlockPageData contains the data passed to the block page template.
type BlockPageData struct {
	// URL is the blocked URL, shown verbatim.
	URL string

	// Probability is the maliciousness probability in [0,1].
	Probability float64

	// Timestamp is the formatted block time.
	Timestamp string
}

// ProbabilityPercent formats the probability for display (e.g. "91.0%").
func (d BlockPageData) ProbabilityPercent() string {
	return fmt.Sprintf("%.1f%%", d.Probability*100)
}

// DefaultBlockPageHTML is the default block page template.
const DefaultBlockPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Access Blocked</title>
    <style>
        body {
            font-family: Arial, sans-serif;
            text-align: center;
            padding: 50px;
            background-color: #f5f5f5;
            margin: 0;
        }
        .container {
            max-width: 600px;
            margin: 0 auto;
            background-color: white;
            padding: 40px;
            border-radius: 10px;
            box-shadow: 0 2px 10px rgba(0,0,0,0.1);
        }
        .warning {
            color: #d32f2f;
            font-size: 24px;
            margin-bottom: 20px;
        }
        .info {
            margin-top: 20px;
            text-align: left;
            background-color: #f5f5f5;
            padding: 20px;
            border-radius: 5px;
        }
        .info p {
            margin: 10px 0;
        }
        .info strong {
            color: #333;
        }
        .icon {
            font-size: 48px;
            margin-bottom: 20px;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="icon">&#9888;</div>
        <h1 class="warning">Malicious URL Blocked</h1>
        <p>The requested URL was classified as malicious and access has been blocked.</p>
        <div class="info">
            <p><strong>Blocked URL:</strong> {{.URL}}</p>
            <p><strong>Risk:</strong> {{.ProbabilityPercent}}</p>
            <p><strong>Blocked at:</strong> {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>`

// NewBlockPage creates a BlockPage with the default template.
func NewBlockPage() *BlockPage {
	tmpl := template.Must(template.New("block").Parse(DefaultBlockPageHTML))
	return &BlockPage{template: tmpl}
}

// NewBlockPageFromTemplate creates a BlockPage from a custom template
// string. Available variables: {{.URL}}, {{.ProbabilityPercent}},
// {{.Timestamp}}.
func NewBlockPageFromTemplate(templateStr string) (*BlockPage, error) {
	tmpl, err := template.New("block").Parse(templateStr)
	if err != nil {
		return nil, err
	}
	return &BlockPage{template: tmpl}, nil
}

// NewBlockPageFromFile creates a BlockPage from a template file.
func NewBlockPageFromFile(path string) (*BlockPage, error) {
	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return nil, err
	}
	return &BlockPage{template: tmpl}, nil
}

// Render writes the block page to the given writer.
func (bp *BlockPage) Render(w io.Writer, data BlockPageData) error {
	return bp.template.Execute(w, data)
}

// RenderString returns the block page as a string.
func (bp *BlockPage) RenderString(data BlockPageData) (string, error) {
	var sb strings.Builder
	if err := bp.template.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
