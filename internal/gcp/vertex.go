package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are an OCR engine for scanned documents. You transcribe every printed or handwritten word on a page image and report where it is. You must output your response as valid JSON."
const OCRUserPrompt = `Transcribe all text on the provided page image, word by word, in reading order.

Follow these rules precisely:
1.  Output a single JSON object with one key, "words", holding an array.
2.  Each array element is an object with exactly two keys:
    - "text": the word exactly as printed, including accents and punctuation attached to it.
    - "box_2d": the bounding box as [ymin, xmin, ymax, xmax], normalised to 0..1000 of the image height and width.
3.  Do not correct spelling, translate, summarise or describe images.
4.  If the page has no text, output {"words": []}.

Example output format:
{"words": [{"text": "Factura", "box_2d": [52, 80, 75, 190]}, {"text": "Nº", "box_2d": [52, 200, 75, 230]}]}`

// VertexClient holds the generative models used by the merge function.
type VertexClient struct {
	OCRModel   *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a client with the OCR model configured for JSON
// word boxes.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := baseClient.GenerativeModel(modelName)
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	ocrModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		OCRModel:   ocrModel,
		baseClient: baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
