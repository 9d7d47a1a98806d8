package composer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kalambet/crmai/internal/crm"
	"github.com/kalambet/crmai/internal/snapshot"
)

func TestCompose_EmptySnapshot(t *testing.T) {
	c := New("", "")
	out := c.Compose(snapshot.Snapshot{}, "How many clients do we have?")

	assert.True(t, strings.HasPrefix(out, roleStatement))
	assert.Contains(t, out, "User question: How many clients do we have?")
	assert.Contains(t, out, "in French")
	for _, section := range []string{"CRM STATISTICS", "CLIENTS:", "CONTRACTS:"} {
		assert.NotContains(t, out, section)
	}
}

func TestCompose_AllBlocksInOrder(t *testing.T) {
	snap := snapshot.Snapshot{
		Stats:     &crm.Stats{ClientCount: 3, ContractCount: 4, Revenue: 12500.5},
		Clients:   []crm.Client{{Name: "Acme", Email: "contact@acme.test"}},
		Contracts: []crm.Contract{{ID: 17, Amount: 1200, Status: "active"}},
	}
	out := New("English", "$").Compose(snap, "Which contract is largest?")

	assert.Contains(t, out, "- Clients: 3\n")
	assert.Contains(t, out, "- Contracts: 4\n")
	assert.Contains(t, out, "- Total revenue: 12500.5$\n")
	assert.Contains(t, out, "- Acme (contact@acme.test)\n")
	assert.Contains(t, out, "- Contract #17 - 1200$ - Status: active\n")
	assert.Contains(t, out, "in English")

	stats := strings.Index(out, "CRM STATISTICS")
	clients := strings.Index(out, "CLIENTS:")
	contracts := strings.Index(out, "CONTRACTS:")
	question := strings.Index(out, "User question:")
	assert.True(t, stats < clients && clients < contracts && contracts < question, out)
	assert.True(t, strings.HasSuffix(out, "Answer:"))
}

func TestCompose_EmptyListsOmitted(t *testing.T) {
	snap := snapshot.Snapshot{
		Stats:     &crm.Stats{},
		Clients:   []crm.Client{},
		Contracts: []crm.Contract{},
	}
	out := New("", "").Compose(snap, "q")

	assert.Contains(t, out, "CRM STATISTICS")
	assert.Contains(t, out, "- Total revenue: 0€")
	assert.NotContains(t, out, "CLIENTS:")
	assert.NotContains(t, out, "CONTRACTS:")
}

func TestCompose_QuestionVerbatim(t *testing.T) {
	q := "Résumé des contrats?\n  avec \"guillemets\" & {braces} %s"
	out := New("", "").Compose(snapshot.Snapshot{}, q)
	assert.Contains(t, out, q)
}

func TestCompose_Deterministic(t *testing.T) {
	snap := snapshot.Snapshot{
		Clients: []crm.Client{{Name: "A", Email: "a@x"}, {Name: "B", Email: "b@x"}},
	}
	c := New("", "")
	assert.Equal(t, c.Compose(snap, "q"), c.Compose(snap, "q"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
