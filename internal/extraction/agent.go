package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/go-agents/pkg/agent"
	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
)

const instructions = `You are a document processing assistant. Extract structured fields from the document below.

For invoices:
- vendor: the name of the vendor or company
- invoice_id: the invoice number or ID
- due_date: the payment due date
- amount: the total amount due, as a number

For customer support tickets:
- customer_name: the customer's name
- email: the customer's email
- topic: the main topic or category
- sentiment: one of Happy, Neutral, Frustrated, Irate
- urgency: one of Low, Medium, High, Critical

Respond with a single JSON object and nothing else. Use null for fields you cannot find.
If the document matches neither category, extract whatever structured fields you can.

Document:
`

// Agent is a Connector backed by an LLM provider through go-agents.
type Agent struct {
	agent  agent.Agent
	logger *slog.Logger
}

// NewAgent builds the provider client from cfg.
func NewAgent(cfg *gaconfig.AgentConfig, logger *slog.Logger) (*Agent, error) {
	a, err := agent.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}

	return &Agent{
		agent:  a,
		logger: logger.With("system", "extraction", "agent", cfg.Name),
	}, nil
}

// Prompt returns the full prompt sent for content.
func Prompt(content string) string {
	return instructions + content
}

func (a *Agent) Extract(ctx context.Context, content string) (map[string]any, error) {
	start := time.Now()

	resp, err := a.agent.Chat(ctx, Prompt(content))
	if err != nil {
		return nil, fmt.Errorf("chat call: %w", err)
	}

	fields, err := ParseFields(resp.Content())
	if err != nil {
		a.logger.Warn("unparseable extraction response", "error", err)
		return nil, err
	}

	a.logger.Debug("extraction complete", "fields", len(fields), "duration", time.Since(start))
	return fields, nil
}
