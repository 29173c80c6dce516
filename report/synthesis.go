package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"propflow/config"
	"propflow/models"
)

// Synthesizer builds a structured prompt for a report request and calls a
// chat-completions API with fixed sampling parameters.
type Synthesizer struct {
	cfg     config.AIConfig
	reports map[string]*config.ReportTypeConfig
	client  *http.Client
}

func NewSynthesizer(cfg config.AIConfig, reports map[string]*config.ReportTypeConfig, client *http.Client) *Synthesizer {
	return &Synthesizer{cfg: cfg, reports: reports, client: client}
}

const systemPrompt = `You are a real-estate analyst writing a report for a property marketplace.
Structure your answer with exactly these three markdown headings, in order:
## Executive Summary
## Market Insights
## Recommendations
Be concrete and specific to the property described. Do not invent data you were not given.`

// BuildPrompt assembles the user prompt from the property snapshot and the
// requested report type.
func (s *Synthesizer) BuildPrompt(req *models.ReportRequest) string {
	var b strings.Builder

	rt, ok := s.reports[string(req.ReportType)]
	if ok {
		fmt.Fprintf(&b, "Write a %s report. Focus on %s.\n\n", rt.DisplayName, rt.Focus)
		for _, inst := range rt.Instructions {
			fmt.Fprintf(&b, "- %s\n", inst)
		}
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "Write a %s report for this property.\n\n",
			strings.ReplaceAll(strings.ToLower(string(req.ReportType)), "_", " "))
	}

	snap := req.Snapshot
	b.WriteString("Property details:\n")
	fmt.Fprintf(&b, "- Title: %s\n", snap.Title)
	fmt.Fprintf(&b, "- Address: %s, %s, %s %s\n", snap.Address, snap.City, snap.State, snap.ZipCode)
	fmt.Fprintf(&b, "- Asking price: $%.0f (%s)\n", snap.Price, snap.ListingType)
	fmt.Fprintf(&b, "- Type: %s, %d bed / %d bath, %d sqft\n",
		snap.PropertyType, snap.Bedrooms, snap.Bathrooms, snap.SquareFeet)
	if snap.YearBuilt != nil {
		fmt.Fprintf(&b, "- Year built: %d\n", *snap.YearBuilt)
	}
	if snap.LotSize != nil {
		fmt.Fprintf(&b, "- Lot size: %.2f acres\n", *snap.LotSize)
	}
	if req.IncludeAmenities && len(snap.Amenities) > 0 {
		fmt.Fprintf(&b, "- Amenities: %s\n", strings.Join(snap.Amenities, ", "))
	}
	if req.AdditionalContext != "" {
		fmt.Fprintf(&b, "\nAdditional context from the requester:\n%s\n", req.AdditionalContext)
	}

	return b.String()
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Synthesize runs the completion call and returns the extracted sections.
func (s *Synthesizer) Synthesize(ctx context.Context, req *models.ReportRequest) (*models.ReportSections, error) {
	if s.cfg.APIKey == "" {
		return nil, fmt.Errorf("AI_API_KEY not set")
	}

	payload := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: s.BuildPrompt(req)},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}

	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.cfg.APIBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("completion failed %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	sections := ExtractSections(result.Choices[0].Message.Content)
	return &sections, nil
}
