package crm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Defaults applied when the upstream service omits a field.
const (
	DefaultDurationDays = 30
	DefaultName         = "N/A"
	DefaultEmail        = "N/A"
)

// Contract is a contract record as served by GET /api/contracts.
// Defaults are applied once during decoding.
type Contract struct {
	ID           int64
	Title        string
	ClientName   string
	Amount       float64
	DurationDays float64
	Status       string
	Renewed      bool
}

// Active reports whether the contract status counts as active. The upstream
// backend stores French statuses ("actif") by default.
func (c Contract) Active() bool {
	s := strings.ToLower(strings.TrimSpace(c.Status))
	return s == "active" || s == "actif"
}

type contractWire struct {
	ID           json.RawMessage `json:"id"`
	Title        string          `json:"title"`
	ClientName   string          `json:"client_name"`
	Montant      json.RawMessage `json:"montant"`
	Amount       json.RawMessage `json:"amount"`
	DurationDays json.RawMessage `json:"duration_days"`
	Status       string          `json:"status"`
	Renewed      json.RawMessage `json:"renewed"`
}

func (c *Contract) UnmarshalJSON(data []byte) error {
	var w contractWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, _ := number(w.ID)
	amountRaw := w.Montant
	if isAbsent(amountRaw) {
		amountRaw = w.Amount
	}
	amount, ok := number(amountRaw)
	if !ok {
		amount = 0
	}
	duration, ok := number(w.DurationDays)
	if !ok {
		duration = DefaultDurationDays
	}

	*c = Contract{
		ID:           int64(id),
		Title:        w.Title,
		ClientName:   w.ClientName,
		Amount:       amount,
		DurationDays: duration,
		Status:       w.Status,
		Renewed:      boolean(w.Renewed),
	}
	return nil
}

// Client is a client record as served by GET /api/clients.
type Client struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (c *Client) UnmarshalJSON(data []byte) error {
	var w struct {
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.Name = DefaultName
	if w.Name != nil {
		c.Name = *w.Name
	}
	c.Email = DefaultEmail
	if w.Email != nil {
		c.Email = *w.Email
	}
	return nil
}

// Stats mirrors GET /api/stats/dashboard.
type Stats struct {
	ClientCount   float64 `json:"clientCount"`
	ContractCount float64 `json:"contractCount"`
	Revenue       float64 `json:"revenue"`
}

func (s *Stats) UnmarshalJSON(data []byte) error {
	var w struct {
		ClientCount   json.RawMessage `json:"clientCount"`
		ContractCount json.RawMessage `json:"contractCount"`
		Revenue       json.RawMessage `json:"revenue"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ClientCount, _ = number(w.ClientCount)
	s.ContractCount, _ = number(w.ContractCount)
	s.Revenue, _ = number(w.Revenue)
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// number decodes a JSON number or numeric string. PostgreSQL numeric
// columns arrive as strings, and "NaN" or "Infinity" count as missing.
func number(raw json.RawMessage) (float64, bool) {
	if isAbsent(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func boolean(raw json.RawMessage) bool {
	if isAbsent(raw) {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b, _ = strconv.ParseBool(s)
		return b
	}
	f, _ := number(raw)
	return f != 0
}
