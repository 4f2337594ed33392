package gemini

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/assets"
	"github.com/fpang/pro-headshot/internal/auth"
	"github.com/fpang/pro-headshot/internal/media"
	"github.com/fpang/pro-headshot/internal/metrics"
)

// Adapter turns headshot operations into model requests and normalizes
// whatever comes back into a Result. It holds no per-call state and is safe
// for concurrent use.
type Adapter struct {
	transport Transport
	model     string
}

// NewAdapter creates an Adapter. An empty model selects DefaultModel.
func NewAdapter(transport Transport, model string) *Adapter {
	if model == "" {
		model = DefaultModel
	}
	return &Adapter{transport: transport, model: model}
}

// Model returns the configured model name.
func (a *Adapter) Model() string {
	return a.model
}

// Generate transforms the person in source into a professional headshot
// using the style's prompt modifier.
func (a *Adapter) Generate(ctx context.Context, source media.EncodedImage, stylePrompt string) Result {
	return a.call(ctx, "generate", source, assets.RenderGeneratePrompt(stylePrompt))
}

// Edit applies a free-text instruction to source.
func (a *Adapter) Edit(ctx context.Context, source media.EncodedImage, editInstruction string) Result {
	return a.call(ctx, "edit", source, assets.RenderEditPrompt(editInstruction))
}

func (a *Adapter) call(ctx context.Context, op string, source media.EncodedImage, prompt string) Result {
	start := time.Now()
	log.Info().
		Str("op", op).
		Str("model", a.model).
		Int("image_bytes", len(source.Data)).
		Str("image_mime", source.MIMEType).
		Msg("Sending image to Gemini")

	resp, err := a.transport.GenerateContent(ctx, Request{
		Model:  a.model,
		Image:  source,
		Prompt: prompt,
	})
	result := Normalize(resp, err)
	elapsed := time.Since(start)

	rec := metrics.New(metrics.Namespace).
		Dimension("Operation", op).
		Metric("GenerationLatencyMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("GenerationCalls").
		Property("model", a.model)

	switch r := result.(type) {
	case Success:
		rec.Dimension("Outcome", "success").
			Metric("GeneratedImageBytes", float64(len(r.Image.Data)), metrics.UnitBytes)
		log.Info().
			Str("op", op).
			Int("output_bytes", len(r.Image.Data)).
			Str("output_mime", r.Image.MIMEType).
			Dur("duration", elapsed).
			Msg("Gemini generation complete")
	case Failure:
		rec.Dimension("Outcome", r.Cause.String())
		evt := log.Warn().
			Str("op", op).
			Str("cause", r.Cause.String()).
			Str("reason", truncateString(r.Reason, 200)).
			Dur("duration", elapsed)
		if r.Cause == CauseTransport {
			evt = evt.Str("error_kind", r.ErrorKind.String()).Err(err)
		}
		evt.Msg("Gemini generation failed")
	}
	rec.Flush()

	return result
}

// Normalize maps a transport reply or error to a Result. Only the first
// candidate is considered; within it the first image part with data wins
// even when text parts precede it.
func Normalize(resp *Response, err error) Result {
	if err != nil {
		if IsParseError(err) {
			return Failure{Reason: ReasonParseFailure, Cause: CauseParseFailure}
		}
		reason := err.Error()
		if reason == "" {
			reason = ReasonUnknownTransport
		}
		return Failure{Reason: reason, Cause: CauseTransport, ErrorKind: auth.Classify(err).Kind}
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return Failure{Reason: ReasonNoCandidates, Cause: CauseNoCandidates}
	}

	parts := resp.Candidates[0].Parts
	for _, p := range parts {
		if img, ok := p.(ImagePart); ok && len(img.Data) > 0 {
			mime := img.MIMEType
			if mime == "" {
				mime = DefaultResponseMIME
			}
			return Success{Image: media.New(mime, img.Data)}
		}
	}
	for _, p := range parts {
		if txt, ok := p.(TextPart); ok && txt.Text != "" {
			return Failure{Reason: ReasonTextPrefix + txt.Text, Cause: CauseTextInsteadOfImage}
		}
	}
	return Failure{Reason: ReasonNoImageData, Cause: CauseNoImageData}
}
