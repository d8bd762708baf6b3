package sinks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/config"
	xhttp "ChainPulse/pkg/http"
	applogger "ChainPulse/pkg/logger"
)

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Gemini calls the generateContent REST endpoint.
type Gemini struct {
	client  *xhttp.Client
	baseURL string
	model   string
	apiKey  string
	log     *applogger.Logger
}

func NewGemini(cfg config.AIConfig, log *applogger.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fault.Config("gemini", errors.New("ai.api_key is required"))
	}
	if log == nil {
		log = applogger.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	return &Gemini{
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		log:     log.Component("gemini"),
	}, nil
}

func (g *Gemini) Complete(ctx context.Context, system, user string) (string, error) {
	const op = "gemini complete"
	req := geminiRequest{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}}}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	start := time.Now()
	var resp geminiResponse
	err := g.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model),
		Headers: map[string]string{"x-goog-api-key": g.apiKey},
		Body:    req,
	}, &resp)
	if err != nil {
		return "", sinkErr(ctx, op, err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fault.Newf(fault.KindSink, op, "prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	var sb strings.Builder
	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", fault.Newf(fault.KindSink, op, "empty response")
	}
	g.log.Info("analysis received",
		applogger.String("model", g.model),
		applogger.Int("chars", sb.Len()),
		applogger.Duration("took", time.Since(start)))
	return sb.String(), nil
}

func sinkErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fault.Cancelled(op, err)
	}
	return fault.Sink(op, err)
}

var _ repository.LLM = (*Gemini)(nil)
