// Package assets provides embedded static assets for the application.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time so wording changes never touch Go code.
package assets

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"
)

//go:embed prompts/generate-headshot.txt
var generateHeadshotTemplate string

//go:embed prompts/edit-headshot.txt
var editHeadshotTemplate string

// Pre-parsed templates. template.Must panics on malformed templates,
// catching errors at program startup rather than at call time.
var (
	generatePromptTmpl = template.Must(template.New("generate").Parse(generateHeadshotTemplate))
	editPromptTmpl     = template.Must(template.New("edit").Parse(editHeadshotTemplate))
)

// GeneratePromptData is injected into the headshot generation template.
type GeneratePromptData struct {
	StyleModifier string
}

// EditPromptData is injected into the edit template.
type EditPromptData struct {
	Instruction string
}

// RenderGeneratePrompt renders the instruction sent with the source selfie.
// The template demands strict preservation of facial identity.
func RenderGeneratePrompt(styleModifier string) string {
	return renderTemplate(generatePromptTmpl, GeneratePromptData{StyleModifier: styleModifier})
}

// RenderEditPrompt renders the instruction for a free-text edit.
func RenderEditPrompt(instruction string) string {
	return renderTemplate(editPromptTmpl, EditPromptData{Instruction: instruction})
}

func renderTemplate(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	// Execution only fails on missing fields, which the typed data rules out.
	_ = tmpl.Execute(&buf, data)
	return strings.TrimSpace(buf.String())
}
