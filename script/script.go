package script

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/cadflow/types"
)

// PromptRequest is one user submission.
type PromptRequest struct {
	Text string `json:"prompt"`
	// Rendered marks Text as a complete model instruction, as produced by
	// ParametricPrompt, so generators send it unchanged.
	Rendered bool `json:"-"`
}

// Validate rejects blank prompts.
func (r PromptRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return types.NewError(types.ErrInvalidRequest, "prompt is required").WithHTTPStatus(400)
	}
	return nil
}

// GeneratedScript is a parametric CAD script plus its content fingerprint.
type GeneratedScript struct {
	Source      string `json:"script"`
	Fingerprint string `json:"fingerprint"`
}

// New fingerprints source and wraps it.
func New(source string) *GeneratedScript {
	return &GeneratedScript{Source: source, Fingerprint: Fingerprint(source)}
}

// Fingerprint is the lowercase hex SHA-256 of the exact script text.
func Fingerprint(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

var fenceRe = regexp.MustCompile("(?s)^```[^\\n]*\\n?(.*?)\\n?```\\s*$")

// StripFences removes a surrounding markdown code block, including its
// language tag, and trims whitespace. Text without fences is only trimmed.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if m := fenceRe.FindStringSubmatch(text); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	// Unterminated block: drop the opening fence line.
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return ""
}

// Language selects the script dialect requested from the model.
type Language string

const (
	OpenSCAD  Language = "openscad"
	CATScript Language = "catscript"
)

// Extension is the file suffix used when a script is written to disk.
func (l Language) Extension() string {
	switch l {
	case CATScript:
		return ".CATScript"
	default:
		return ".scad"
	}
}

func (l Language) describe() string {
	switch l {
	case CATScript:
		return "a CATScript (VBScript used in CATIA)"
	default:
		return "an OpenSCAD script"
	}
}

// Prompt renders a free-text description into a code-only instruction.
func Prompt(lang Language, description string) string {
	return fmt.Sprintf(`
Generate %s that models the following:
%s
- Output only the code (no markdown, no explanations)
- Keep code clean, no extra comments
`, lang.describe(), strings.TrimSpace(description))
}

// Default values of the legacy parametric request.
const (
	DefaultSize   = "20"
	DefaultFillet = "5"
)

// ParametricPrompt renders the legacy filleted-cube request.
func ParametricPrompt(lang Language, size, fillet string) string {
	size = strings.TrimSpace(size)
	fillet = strings.TrimSpace(fillet)
	if size == "" {
		size = DefaultSize
	}
	if fillet == "" {
		fillet = DefaultFillet
	}
	runs := "Ensure the script renders with openscad -o out.stl"
	if lang == CATScript {
		runs = "Ensure the script runs fully in CATIA's VBA editor"
	}
	return fmt.Sprintf(`
Generate %s that:
- Creates a 3D cube of size %s mm
- Applies a %s mm fillet to its edges
- %s
- Output only the code (no markdown, no explanations)
- Keep code clean, no extra comments
`, lang.describe(), size, fillet, runs)
}
