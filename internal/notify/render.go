package notify

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/fyrsmithlabs/lockwatchd/internal/strike"
)

//go:embed templates/*.txt
var defaultTemplates embed.FS

// subjectPrefix marks the subject line in a template's first line.
const subjectPrefix = "Betreff: "

// TemplateData is what strike templates render against.
type TemplateData struct {
	Name          string
	Supervisor    string
	CardUID       string
	StrikeType    string
	ViolationDate string
	Location      string
	LockID        string
	CurrentDate   string
	CurrentTime   string
	Counter       int
	Salutation    string
}

// Message is a rendered, addressed notification ready for delivery.
type Message struct {
	To      string
	Cc      string
	Subject string
	Body    string
}

// Renderer turns strike outcomes into subject and body text. Templates
// in the override directory shadow the built-in ones by filename.
type Renderer struct {
	overrideDir string
	now         func() time.Time
}

// NewRenderer builds a renderer. overrideDir may be empty; now may be
// nil for the wall clock.
func NewRenderer(overrideDir string, now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{overrideDir: overrideDir, now: now}
}

// templateKey folds the counter outcome onto the third-strike template:
// past the third strike the message to the member is the same.
func templateKey(typ strike.OutcomeType, guest bool) (string, error) {
	var key string
	switch typ {
	case strike.OutcomeStrike1:
		key = "strike_1"
	case strike.OutcomeStrike2:
		key = "strike_2"
	case strike.OutcomeStrike3, strike.OutcomeCounter:
		key = "strike_3"
	default:
		return "", fmt.Errorf("no template for outcome type %q", typ)
	}
	if guest {
		key = "guest_" + key
	}
	return key, nil
}

func (r *Renderer) load(key string) (string, error) {
	name := key + ".txt"
	if r.overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(r.overrideDir, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read template override: %w", err)
		}
	}
	data, err := defaultTemplates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("template %q not found: %w", name, err)
	}
	return string(data), nil
}

// Render produces the subject and body for one outcome.
func (r *Renderer) Render(data TemplateData, typ strike.OutcomeType, guest bool) (subject, body string, err error) {
	key, err := templateKey(typ, guest)
	if err != nil {
		return "", "", err
	}
	raw, err := r.load(key)
	if err != nil {
		return "", "", err
	}

	tmpl, err := template.New(key).Option("missingkey=error").Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse template %q: %w", key, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render template %q: %w", key, err)
	}

	return splitSubject(buf.String())
}

// splitSubject separates the subject line from the body. The first line
// must carry the subject prefix.
func splitSubject(rendered string) (string, string, error) {
	first, rest, _ := strings.Cut(rendered, "\n")
	if !strings.HasPrefix(first, subjectPrefix) {
		return "", "", fmt.Errorf("template is missing the %q subject line", strings.TrimSpace(subjectPrefix))
	}
	subject := strings.TrimSpace(strings.TrimPrefix(first, subjectPrefix))
	return subject, strings.TrimSpace(rest), nil
}

// salutation picks the informal German greeting by the directory's
// gender column.
func salutation(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "w", "weiblich", "female":
		return "Liebe"
	default:
		return "Lieber"
	}
}
