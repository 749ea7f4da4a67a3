package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// ContentGenerator is the part of *genai.GenerativeModel the Vertex engine uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexEngine asks a Gemini model for word boxes. The model is expected to be
// configured for JSON output with coordinates normalised to 0..1000.
type VertexEngine struct {
	model  ContentGenerator
	prompt string
}

// NewVertexEngine wraps a configured model. prompt is sent with every image.
func NewVertexEngine(model ContentGenerator, prompt string) *VertexEngine {
	return &VertexEngine{model: model, prompt: prompt}
}

func (e *VertexEngine) Name() string { return "vertex" }

func (e *VertexEngine) Recognize(ctx context.Context, in Input) (Result, error) {
	w, h := in.Width, in.Height
	if w == 0 || h == 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(in.Image))
		if err != nil {
			return Result{}, fmt.Errorf("decode image size: %w", err)
		}
		w, h = cfg.Width, cfg.Height
	}
	prompt := e.prompt
	if len(in.Languages) > 0 {
		prompt += "\nExpected languages (tesseract codes): " + strings.Join(in.Languages, ", ")
	}
	resp, err := e.model.GenerateContent(ctx,
		genai.Blob{MIMEType: string(in.Format), Data: in.Image},
		genai.Text(prompt),
	)
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	words, err := ParseVertexWords(responseText(resp), w, h)
	if err != nil {
		return Result{}, err
	}
	texts := make([]string, len(words))
	for i, wd := range words {
		texts[i] = wd.Text
	}
	return Result{InputID: in.ID, PlainText: strings.Join(texts, " "), Words: words}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

type vertexWord struct {
	Text string    `json:"text"`
	Box  []float64 `json:"box_2d"`
}

type vertexPayload struct {
	Words []vertexWord `json:"words"`
}

// ParseVertexWords decodes a model response of the form
// {"words":[{"text":"...","box_2d":[ymin,xmin,ymax,xmax]}]} into pixel boxes
// for an image of width x height pixels.
func ParseVertexWords(raw string, width, height int) ([]Word, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty response from gemini")
	}
	var payload vertexPayload
	if strings.HasPrefix(s, "[") {
		if err := json.Unmarshal([]byte(s), &payload.Words); err != nil {
			return nil, fmt.Errorf("unmarshal gemini words: %w", err)
		}
	} else if err := json.Unmarshal([]byte(s), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal gemini words: %w", err)
	}

	fx, fy := float64(width)/1000, float64(height)/1000
	words := make([]Word, 0, len(payload.Words))
	for _, vw := range payload.Words {
		text := strings.TrimSpace(vw.Text)
		if text == "" || len(vw.Box) != 4 {
			continue
		}
		ymin, xmin, ymax, xmax := vw.Box[0], vw.Box[1], vw.Box[2], vw.Box[3]
		if xmax <= xmin || ymax <= ymin {
			continue
		}
		words = append(words, Word{
			Text:       text,
			Bounds:     Region{X: xmin * fx, Y: ymin * fy, Width: (xmax - xmin) * fx, Height: (ymax - ymin) * fy},
			Confidence: 1,
		})
	}
	return words, nil
}
