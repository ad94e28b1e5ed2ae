/*
Package template renders prompt templates with ${name} placeholders.

Prompts embed SQL, which uses $1 parameters and $$ quoting, so only the
brace form is recognized. Substitution is a single pass: a value that
itself contains ${...} is inserted literally and never expanded again.

	p := template.MustParse("design", "Schema:\n${schema_text}\n\nRequest: ${user_message}")
	text, err := p.Render(template.Vars{
	    "schema_text":  s.Text(),
	    "user_message": input,
	})

Render fails with *UndefinedVariableError when a placeholder has no value,
unless the prompt was parsed with WithMissingAction(MissingEmpty) or
MissingKeep.
*/
package template
