package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/gemini"
	"github.com/fpang/pro-headshot/internal/imageprep"
	"github.com/fpang/pro-headshot/internal/media"
)

const mcpServerName = "pro-headshot"

type listStylesArgs struct{}

type generateArgs struct {
	Image   string `json:"image" jsonschema:"Portrait photo as a data URL or bare base64 string"`
	StyleID string `json:"style_id" jsonschema:"Style preset ID from list_styles"`
}

type editArgs struct {
	Image       string `json:"image" jsonschema:"Headshot to edit as a data URL or bare base64 string"`
	Instruction string `json:"instruction" jsonschema:"Free-text edit such as 'make the background darker'"`
}

// mcpHandler serves the tool surface statelessly; each tool call is a
// one-shot generation outside the session store.
func (s *Server) mcpHandler() http.Handler {
	server := mcp.NewServer(&mcp.Implementation{Name: mcpServerName, Version: "1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_styles",
		Description: "List the available headshot style presets",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ listStylesArgs) (*mcp.CallToolResult, any, error) {
		var b strings.Builder
		for _, p := range s.catalog.All() {
			fmt.Fprintf(&b, "%s: %s - %s\n", p.ID, p.Name, p.Description)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: strings.TrimSpace(b.String())}},
		}, nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_headshot",
		Description: "Turn a portrait photo into a professional headshot in the given style",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args generateArgs) (*mcp.CallToolResult, any, error) {
		preset, err := s.catalog.Lookup(args.StyleID)
		if err != nil {
			return toolError(fmt.Sprintf("unknown style %q", args.StyleID)), nil, nil
		}
		source, err := s.decodeToolImage(ctx, args.Image)
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		return toolResult(s.gen.Generate(ctx, source, preset.PromptModifier)), nil, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "edit_headshot",
		Description: "Apply a free-text edit to a headshot",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args editArgs) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(args.Instruction) == "" {
			return toolError("instruction must not be empty"), nil, nil
		}
		source, err := media.ParseDataURL(args.Image)
		if err != nil {
			return toolError(err.Error()), nil, nil
		}
		return toolResult(s.gen.Edit(ctx, source, args.Instruction)), nil, nil
	})

	return mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return server },
		&mcp.StreamableHTTPOptions{Stateless: true, JSONResponse: true},
	)
}

// decodeToolImage runs a tool-supplied photo through the same
// preprocessing as an upload.
func (s *Server) decodeToolImage(ctx context.Context, encoded string) (media.EncodedImage, error) {
	raw, err := media.ParseDataURL(encoded)
	if err != nil {
		return media.EncodedImage{}, err
	}
	img, err := s.prep.Preprocess(ctx, imageprep.Upload{
		Filename:    "mcp-upload",
		ContentType: raw.MIMEType,
		Size:        int64(len(raw.Data)),
		Body:        bytes.NewReader(raw.Data),
	})
	if err != nil {
		var ve *imageprep.ValidationError
		if errors.As(err, &ve) {
			return media.EncodedImage{}, errors.New(ve.Message)
		}
		return media.EncodedImage{}, err
	}
	return img, nil
}

func toolResult(res gemini.Result) *mcp.CallToolResult {
	switch r := res.(type) {
	case gemini.Success:
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.ImageContent{MIMEType: r.Image.MIMEType, Data: r.Image.Data}},
		}
	case gemini.Failure:
		log.Warn().Str("cause", r.Cause.String()).Msg("MCP generation failed")
		return toolError(r.Reason)
	default:
		return toolError("unexpected generation result")
	}
}

func toolError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
