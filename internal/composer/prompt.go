package composer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kalambet/crmai/internal/snapshot"
)

const (
	defaultLanguage = "French"
	defaultCurrency = "€"

	roleStatement = "You are an intelligent CRM assistant."
)

// Composer renders a CRM snapshot and a user question into the prompt sent
// to the generative backend. Output is deterministic for a given input.
type Composer struct {
	Language string
	Currency string
}

// New creates a Composer answering in language with amounts suffixed by
// currency. Empty values fall back to French and "€".
func New(language, currency string) *Composer {
	if language == "" {
		language = defaultLanguage
	}
	if currency == "" {
		currency = defaultCurrency
	}
	return &Composer{Language: language, Currency: currency}
}

// Compose builds the prompt. Blocks for absent or empty snapshot fields are
// omitted entirely.
func (c *Composer) Compose(snap snapshot.Snapshot, question string) string {
	var sb strings.Builder

	sb.WriteString(roleStatement)
	sb.WriteString("\n\n")

	if s := snap.Stats; s != nil {
		sb.WriteString("CRM STATISTICS:\n")
		fmt.Fprintf(&sb, "- Clients: %s\n", formatNumber(s.ClientCount))
		fmt.Fprintf(&sb, "- Contracts: %s\n", formatNumber(s.ContractCount))
		fmt.Fprintf(&sb, "- Total revenue: %s%s\n\n", formatNumber(s.Revenue), c.Currency)
	}

	if len(snap.Clients) > 0 {
		sb.WriteString("CLIENTS:\n")
		for _, cl := range snap.Clients {
			fmt.Fprintf(&sb, "- %s (%s)\n", cl.Name, cl.Email)
		}
		sb.WriteString("\n")
	}

	if len(snap.Contracts) > 0 {
		sb.WriteString("CONTRACTS:\n")
		for _, ct := range snap.Contracts {
			fmt.Fprintf(&sb, "- Contract #%d - %s%s - Status: %s\n", ct.ID, formatNumber(ct.Amount), c.Currency, statusLabel(ct.Status))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\nUser question: %s\n\n", question)
	fmt.Fprintf(&sb, "Answer clearly and professionally in %s. Use the CRM data above to answer precisely.\n\n", c.Language)
	sb.WriteString("Answer:")

	return sb.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func statusLabel(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
