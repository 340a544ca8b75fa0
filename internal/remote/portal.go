package remote

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeout   = 30 * time.Minute
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:115.0) Gecko/20100101 Firefox/115.0"
)

// Portal is the form schema of one remote deployment.
type Portal struct {
	URL        string `yaml:"url"`
	SubmitPath string `yaml:"submit_path"`
	ExportPath string `yaml:"export_path"`

	FileField     string `yaml:"file_field"`
	DatabaseField string `yaml:"database_field"`
	// TokenParam is the query parameter of the result link that names the
	// server-side result file.
	TokenParam string `yaml:"token_param"`

	// Fields are sent verbatim with every submission.
	Fields map[string]string `yaml:"fields"`
	// Choices are radio groups and selects addressed by option index.
	Choices map[string]Choice `yaml:"choices"`
	// Checkboxes are sent with value "1" when true and omitted otherwise.
	Checkboxes map[string]bool `yaml:"checkboxes"`

	// Export holds the fixed parameters of the export request.
	Export            map[string]string `yaml:"export"`
	ExportFormatField string            `yaml:"export_format_field"`
	ExportFormat      Choice            `yaml:"export_format"`

	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Choice selects one option by index.
type Choice struct {
	Options []string `yaml:"options"`
	Index   int      `yaml:"index"`
}

// Value returns the selected option.
func (c Choice) Value() (string, error) {
	if c.Index < 0 || c.Index >= len(c.Options) {
		return "", fmt.Errorf("option index %d out of range (%d options)", c.Index, len(c.Options))
	}
	return c.Options[c.Index], nil
}

// LoadPortal reads and validates a YAML portal file.
func LoadPortal(path string) (*Portal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Portal
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing portal %s: %w", path, err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("portal %s: %w", path, err)
	}
	return &p, nil
}

func (p *Portal) applyDefaults() {
	if p.Timeout <= 0 {
		p.Timeout = defaultTimeout
	}
	if p.UserAgent == "" {
		p.UserAgent = defaultUserAgent
	}
	if p.TokenParam == "" {
		p.TokenParam = "file"
	}
	if p.URL != "" && !strings.HasSuffix(p.URL, "/") {
		p.URL += "/"
	}
}

// Validate checks that every required part of the schema is present.
func (p *Portal) Validate() error {
	required := map[string]string{
		"url":         p.URL,
		"submit_path": p.SubmitPath,
		"export_path": p.ExportPath,
		"file_field":  p.FileField,
	}
	for _, key := range []string{"url", "submit_path", "export_path", "file_field"} {
		if required[key] == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	for name, c := range p.Choices {
		if _, err := c.Value(); err != nil {
			return fmt.Errorf("choice %s: %w", name, err)
		}
	}
	if p.ExportFormatField != "" {
		if _, err := p.ExportFormat.Value(); err != nil {
			return fmt.Errorf("export_format: %w", err)
		}
	}
	return nil
}
