package template

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Vars maps placeholder names to values.
type Vars map[string]string

// MissingAction specifies how Render treats a placeholder without a value.
type MissingAction int

const (
	// MissingError fails the render. This is the default.
	MissingError MissingAction = iota
	// MissingEmpty substitutes "".
	MissingEmpty
	// MissingKeep leaves ${name} in the output.
	MissingKeep
)

// Option configures Parse.
type Option func(*Prompt)

// WithMissingAction sets how Render handles missing values.
func WithMissingAction(action MissingAction) Option {
	return func(p *Prompt) {
		p.missing = action
	}
}

// Prompt is a parsed template. It is immutable and safe for concurrent use.
type Prompt struct {
	name    string
	text    string
	vars    []string
	missing MissingAction
}

// Parse scans text for placeholders. A "${" that does not start a valid
// placeholder is an error, since it almost always means a typo.
func Parse(name, text string, opts ...Option) (*Prompt, error) {
	p := &Prompt{name: name, text: text}
	for _, opt := range opts {
		opt(p)
	}

	valid := placeholder.FindAllStringSubmatchIndex(text, -1)
	for i := 0; ; {
		j := strings.Index(text[i:], "${")
		if j < 0 {
			break
		}
		at := i + j
		if !slices.ContainsFunc(valid, func(loc []int) bool { return loc[0] == at }) {
			return nil, fmt.Errorf("template %s: malformed placeholder at offset %d", name, at)
		}
		i = at + 2
	}

	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !slices.Contains(p.vars, m[1]) {
			p.vars = append(p.vars, m[1])
		}
	}
	return p, nil
}

// MustParse is Parse for package-level prompts; it panics on error.
func MustParse(name, text string, opts ...Option) *Prompt {
	p, err := Parse(name, text, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the prompt name.
func (p *Prompt) Name() string { return p.name }

// Variables lists the placeholder names in order of first use.
func (p *Prompt) Variables() []string {
	return slices.Clone(p.vars)
}

// Render substitutes vars into the prompt.
func (p *Prompt) Render(vars Vars) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(p.text, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		switch p.missing {
		case MissingEmpty:
			return ""
		case MissingKeep:
			return match
		default:
			if !slices.Contains(missing, name) {
				missing = append(missing, name)
			}
			return match
		}
	})
	if len(missing) > 0 {
		return "", &UndefinedVariableError{Template: p.name, Names: missing}
	}
	return out, nil
}

// UndefinedVariableError lists the placeholders Render had no value for.
type UndefinedVariableError struct {
	Template string
	Names    []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("template %s: undefined variable: %s", e.Template, e.Names[0])
	}
	return fmt.Sprintf("template %s: undefined variables: %s", e.Template, strings.Join(e.Names, ", "))
}
