package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
	"github.com/mlenz/resell-scout/internal/persona"
	"github.com/mlenz/resell-scout/internal/pipeline"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	geminiModel     = "gemini-3-flash-preview"
	geminiLiteModel = "gemini-2.5-flash-lite"
)

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion      = 0.50 // $0.50 per 1M input tokens (text/image/video)
	geminiOutputPricePerMillion     = 3.00 // $3.00 per 1M output tokens (including thinking)
	geminiLiteInputPricePerMillion  = 0.075
	geminiLiteOutputPricePerMillion = 0.30
)

var visionInstruction = dedent.Dedent(`
	Analyze this photo and identify the item so its resale value can be researched on a secondhand marketplace.

	Respond in JSON format with these fields:
	- name: What the item is, including brand and model if visible (e.g. "Sony WH-1000XM4 Kopfhörer")
	- brand: The brand name if identifiable (empty string if unknown)
	- model: The model name or number if identifiable (empty string if unknown)
	- color: The dominant color of the item (empty string if not meaningful)
	- condition: The visible condition (e.g. "neuwertig", "gut", "gebraucht", "stark benutzt")
	- attributes: An object of additional identifying details (size, storage capacity, material, generation)

	Example response:
	{"name": "Sony WH-1000XM4 Kopfhörer", "brand": "Sony", "model": "WH-1000XM4", "color": "schwarz", "condition": "gut", "attributes": {"typ": "Over-Ear", "konnektivität": "Bluetooth"}}

	Respond ONLY with the JSON object, no markdown or other text.`)

var visionMultiImageInstruction = dedent.Dedent(`
	Analyze these photos showing the same item from different angles and identify it so its resale value can be researched on a secondhand marketplace.

	The photos show the same item - use all of them together to get a complete understanding of the item's condition, brand, model, and features.

	Respond in JSON format with these fields:
	- name: What the item is, including brand and model if visible (e.g. "Sony WH-1000XM4 Kopfhörer")
	- brand: The brand name if identifiable (empty string if unknown)
	- model: The model name or number if identifiable (empty string if unknown)
	- color: The dominant color of the item (empty string if not meaningful)
	- condition: The visible condition (e.g. "neuwertig", "gut", "gebraucht", "stark benutzt")
	- attributes: An object of additional identifying details (size, storage capacity, material, generation)

	Example response:
	{"name": "Sony WH-1000XM4 Kopfhörer", "brand": "Sony", "model": "WH-1000XM4", "color": "schwarz", "condition": "gut", "attributes": {"typ": "Over-Ear", "konnektivität": "Bluetooth"}}

	Respond ONLY with the JSON object, no markdown or other text.`)

var queryInstruction = dedent.Dedent(`
	Generate an optimized search query to find comparable listings for this item on kleinanzeigen.de.

	Extract the core product identifier that would match similar items:
	- For electronics: model number/name (e.g. "RTX 3070 Ti", "iPhone 13 Pro", "PlayStation 5")
	- For furniture: type and key characteristics (e.g. "Ledersofa", "Bürostuhl")
	- For clothing: brand and type (e.g. "Nike Air Max", "Fjällräven Jacke")

	Do NOT include:
	- Condition descriptors (e.g. "neu", "gebraucht", "guter Zustand")
	- Marketing terms (e.g. "Gaming", "Pro", "Ultimate") unless part of the model name
	- Color, unless it significantly affects the item's value

	Respond with ONLY the search query (1-5 words), no quotes or explanation.`)

var queryData = dedent.Dedent(`
	Item:
	- Name: %s
	- Brand: %s
	- Model: %s
	- Color: %s
	- Condition: %s
	%s`)

var evaluationInstruction = dedent.Dedent(`
	Judge whether the marketplace listings below match the specific item, to find comparable prices.

	For each listing, decide whether it offers the SAME product (same model or a directly comparable variant). Accessories, spare parts, repairs, or different models are NOT matches. Score each listing from 0.0 (unrelated) to 1.0 (identical product).

	Then write one sentence of feedback for the next search attempt: if the results were poor, say what the query should add, drop, or generalize; if they were good, say so.`)

var evaluationData = dedent.Dedent(`
	Item being priced:
	- Name: %s
	- Brand: %s
	- Model: %s
	- Condition: %s

	Listings found:
	%s`)

// buildPrompt assembles preamble + instruction + data for one role. A
// persona's Prompt, when set, replaces the built-in instruction but never
// the data section.
func buildPrompt(p persona.Persona, builtin, data string) string {
	instruction := builtin
	if p.Prompt != "" {
		instruction = p.Prompt
	}
	parts := []string{p.Preamble(), strings.TrimSpace(instruction)}
	if data != "" {
		parts = append(parts, strings.TrimSpace(data))
	}
	return strings.Join(parts, "\n\n")
}

// evaluationSchema constrains the judge's output so it always parses.
var evaluationSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"evaluations": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"id":     {Type: genai.TypeString, Description: "The listing ID exactly as given"},
					"score":  {Type: genai.TypeNumber, Description: "Match score from 0.0 to 1.0"},
					"match":  {Type: genai.TypeBoolean, Description: "Whether the listing is the same product"},
					"reason": {Type: genai.TypeString, Description: "One short sentence justifying the verdict"},
				},
				Required:         []string{"id", "score", "match", "reason"},
				PropertyOrdering: []string{"id", "score", "match", "reason"},
			},
		},
		"feedback": {Type: genai.TypeString, Description: "One sentence of advice for refining the next search query"},
	},
	Required:         []string{"evaluations", "feedback"},
	PropertyOrdering: []string{"evaluations", "feedback"},
}

// Gemini implements the vision, query generation, and match evaluation
// collaborators on top of Google's Gemini API.
type Gemini struct {
	client        *genai.Client
	personas      persona.Set
	minMatches    int
	minMatchRatio float64
}

// GeminiOpts configures a Gemini instance.
type GeminiOpts struct {
	APIKey        string
	Personas      persona.Set
	MinMatches    int
	MinMatchRatio float64
}

// NewGemini creates the Gemini-backed collaborators.
func NewGemini(ctx context.Context, opts GeminiOpts) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Gemini{
		client:        client,
		personas:      opts.Personas,
		minMatches:    opts.MinMatches,
		minMatchRatio: opts.MinMatchRatio,
	}, nil
}

// AnalyzeImages implements VisionAnalyzer. For single photos it uses the
// single-image prompt, for multiple photos the multi-image prompt so the
// model combines the angles.
func (g *Gemini) AnalyzeImages(ctx context.Context, images [][]byte) (*pipeline.ProductDescription, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images provided")
	}

	instruction := visionInstruction
	if len(images) > 1 {
		instruction = visionMultiImageInstruction
	}
	prompt := buildPrompt(g.personas.ImageAnalyst, instruction, "")

	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
	}
	for _, imgData := range images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{Data: imgData, MIMEType: "image/jpeg"},
		})
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from Gemini")
	}

	product, err := parseProductDescription(result.Text())
	if err != nil {
		return nil, err
	}

	usage := usageFrom(result, geminiInputPricePerMillion, geminiOutputPricePerMillion)
	log.Info().
		Str("model", geminiModel).
		Int("imageCount", len(images)).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Str("name", product.Name).
		Msg("vision llm call")

	return product, nil
}

// Generate implements pipeline.QueryGenerator using the lite model.
// Feedback from the previous iteration's evaluation is appended so the
// model can refine rather than start over.
func (g *Gemini) Generate(ctx context.Context, product *pipeline.ProductDescription, feedback string, iteration int) (pipeline.SearchQuery, error) {
	feedbackSection := ""
	if feedback != "" {
		feedbackSection = fmt.Sprintf("\nFeedback on the previous search attempt: %s\n", feedback)
	}

	data := fmt.Sprintf(queryData,
		product.Name, product.Brand, product.Model, product.Color, product.Condition,
		feedbackSection,
	)
	prompt := buildPrompt(g.personas.QueryWriter, queryInstruction, data)

	result, err := g.client.Models.GenerateContent(ctx, geminiLiteModel, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}, nil)
	if err != nil {
		return pipeline.SearchQuery{}, fmt.Errorf("gemini query generation failed: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return pipeline.SearchQuery{}, fmt.Errorf("empty response from gemini")
	}

	query := strings.TrimSpace(result.Text())

	// Strip markdown code blocks if present
	query = strings.TrimPrefix(query, "```text")
	query = strings.TrimPrefix(query, "```")
	query = strings.TrimSuffix(query, "```")
	query = strings.TrimSpace(query)

	// Strip surrounding quotes
	query = strings.Trim(query, `"'`)

	// A suspiciously long output is likely a refusal or explanation.
	// Return empty to trigger the caller's fallback query.
	if len(query) > 60 {
		query = ""
	}

	usage := usageFrom(result, geminiLiteInputPricePerMillion, geminiLiteOutputPricePerMillion)
	log.Info().
		Str("model", geminiLiteModel).
		Int("iteration", iteration).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Str("query", query).
		Msg("query generation llm call")

	return pipeline.SearchQuery{Query: query, Iteration: iteration}, nil
}

// Evaluate implements pipeline.MatchEvaluator. It scores every listing
// against the product using structured output and derives the sufficiency
// verdict from the configured thresholds.
func (g *Gemini) Evaluate(ctx context.Context, product *pipeline.ProductDescription, listings []pipeline.Listing, iteration int) (*pipeline.EvaluationResult, error) {
	if len(listings) == 0 {
		// Nothing to judge, no need to spend tokens.
		return &pipeline.EvaluationResult{
			Iteration:  iteration,
			Sufficient: false,
			Feedback:   "The search returned no listings at all. Try broader or different terms.",
		}, nil
	}

	data := fmt.Sprintf(evaluationData,
		product.Name, product.Brand, product.Model, product.Condition,
		formatListings(listings),
	)
	prompt := buildPrompt(g.personas.ListingJudge, evaluationInstruction, data)

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   evaluationSchema,
	}

	result, err := g.client.Models.GenerateContent(ctx, geminiLiteModel, []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
	}, config)
	if err != nil {
		return nil, &pipeline.EvaluationError{Err: fmt.Errorf("gemini evaluation failed: %w", err)}
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, &pipeline.EvaluationError{Err: fmt.Errorf("empty response from gemini")}
	}

	var resp struct {
		Evaluations []struct {
			ID     string  `json:"id"`
			Score  float64 `json:"score"`
			Match  bool    `json:"match"`
			Reason string  `json:"reason"`
		} `json:"evaluations"`
		Feedback string `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(result.Text()), &resp); err != nil {
		return nil, &pipeline.EvaluationError{Err: fmt.Errorf("failed to parse evaluation json: %w (response: %s)", err, result.Text())}
	}

	byID := make(map[string]pipeline.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}

	eval := &pipeline.EvaluationResult{Iteration: iteration, Feedback: strings.TrimSpace(resp.Feedback)}
	for _, e := range resp.Evaluations {
		listing, ok := byID[e.ID]
		if !ok {
			log.Warn().Str("id", e.ID).Msg("llm evaluated unknown listing ID, ignoring")
			continue
		}
		eval.Scores = append(eval.Scores, pipeline.ListingScore{
			Listing: listing,
			Score:   e.Score,
			Match:   e.Match,
			Reason:  e.Reason,
		})
	}

	matches := eval.MatchCount()
	ratio := float64(matches) / float64(len(listings))
	eval.Sufficient = matches >= g.minMatches && ratio >= g.minMatchRatio

	if eval.Feedback == "" {
		if eval.Sufficient {
			eval.Feedback = "The results match well."
		} else {
			eval.Feedback = fmt.Sprintf("Only %d of %d listings matched. Refine the query.", matches, len(listings))
		}
	}

	usage := usageFrom(result, geminiLiteInputPricePerMillion, geminiLiteOutputPricePerMillion)
	log.Info().
		Str("model", geminiLiteModel).
		Int("iteration", iteration).
		Int("listings", len(listings)).
		Int("matches", matches).
		Bool("sufficient", eval.Sufficient).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Msg("evaluation llm call")

	return eval, nil
}

func formatListings(listings []pipeline.Listing) string {
	var b strings.Builder
	for _, l := range listings {
		price := "no price"
		if l.Price != nil {
			price = fmt.Sprintf("%.2f %s", l.Price.Amount, l.Price.Currency)
		}
		fmt.Fprintf(&b, "- ID: %s | Title: %s | Price: %s", l.ID, l.Title, price)
		if l.Condition != "" {
			fmt.Fprintf(&b, " | Condition: %s", l.Condition)
		}
		if l.Description != "" {
			fmt.Fprintf(&b, " | Description: %s", truncateRunes(l.Description, 200))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// truncateRunes shortens s to at most n runes, never splitting a rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func usageFrom(result *genai.GenerateContentResponse, inputPrice, outputPrice float64) Usage {
	usage := Usage{}
	if result.UsageMetadata != nil {
		usage.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateGeminiCost(usage.InputTokens, usage.OutputTokens, inputPrice, outputPrice)
	}
	return usage
}

func calculateGeminiCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}

// extractJSONObject extracts a JSON object from text that may contain markdown
// code blocks or other formatting. Returns the extracted JSON string or an error.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no JSON object found in response: %s", text)
	}
	return text[start : end+1], nil
}

func parseProductDescription(text string) (*pipeline.ProductDescription, error) {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	var product pipeline.ProductDescription
	if err := json.Unmarshal([]byte(jsonStr), &product); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w (response: %s)", err, jsonStr)
	}

	return &product, nil
}
