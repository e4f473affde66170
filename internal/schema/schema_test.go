package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tpvsync/internal/schema"
	"github.com/dropDatabas3/tpvsync/internal/store/core"
)

func validSale() map[string]any {
	return map[string]any{
		"clientId":       "c-1",
		"warehouse":      "w-1",
		"items":          []any{map[string]any{"product_id": "p-1", "quantity": 2}},
		"total":          150.0,
		"payment_method": "cash",
	}
}

func TestValidate_NormalizesCallerConvention(t *testing.T) {
	g := schema.NewGateway(nil)

	res := g.Validate(validSale(), core.CategoryCreateSale)
	require.True(t, res.OK)

	// Aliases y camelCase resueltos a convención remota.
	assert.Contains(t, res.Normalized, "client_id")
	assert.Contains(t, res.Normalized, "warehouse_id")
	assert.NotContains(t, res.Normalized, "clientId")
	assert.NotContains(t, res.Normalized, "warehouse")
	assert.Equal(t, "c-1", res.Normalized["client_id"])
}

func TestValidate_IdempotentOnNormalizedPayload(t *testing.T) {
	g := schema.NewGateway(nil)

	first := g.Validate(validSale(), core.CategoryCreateSale)
	require.True(t, first.OK)

	second := g.Validate(first.Normalized, core.CategoryCreateSale)
	require.True(t, second.OK)
	assert.Equal(t, first.Normalized, second.Normalized)
}

func TestValidate_MissingRequired(t *testing.T) {
	g := schema.NewGateway(nil)

	payload := validSale()
	delete(payload, "total")
	delete(payload, "payment_method")

	res := g.Validate(payload, core.CategoryCreateSale)
	require.False(t, res.OK)
	assert.ElementsMatch(t, []string{"total", "payment_method"}, res.MissingRequired)
	assert.Nil(t, res.Normalized)
}

func TestValidate_ObsoleteFieldIsDrift(t *testing.T) {
	g := schema.NewGateway(nil)

	payload := validSale()
	payload["legacyDiscountCode"] = "XYZ"

	res := g.Validate(payload, core.CategoryCreateSale)
	require.False(t, res.OK)
	assert.Contains(t, res.Obsolete, "legacy_discount_code")
	assert.Empty(t, res.MissingRequired)
}

func TestValidate_UnknownCategory(t *testing.T) {
	g := schema.NewGateway(nil)

	res := g.Validate(validSale(), core.Category("refund-sale"))
	assert.False(t, res.OK)
	assert.False(t, g.Supported(core.Category("refund-sale")))
	assert.True(t, g.Supported(core.CategoryCreateSale))
}

func TestValidate_DriftCallbackFires(t *testing.T) {
	var gotCat core.Category
	var gotMissing, gotObsolete []string
	g := schema.NewGateway(func(cat core.Category, missing, obsolete []string) {
		gotCat, gotMissing, gotObsolete = cat, missing, obsolete
	})

	payload := map[string]any{"name": "ACME", "oldField": "x"}
	res := g.Validate(payload, core.CategoryCreateClient)
	require.False(t, res.OK)

	assert.Equal(t, core.CategoryCreateClient, gotCat)
	assert.Empty(t, gotMissing)
	assert.Equal(t, []string{"old_field"}, gotObsolete)
}

func TestValidate_MovementAliases(t *testing.T) {
	g := schema.NewGateway(nil)

	res := g.Validate(map[string]any{
		"product_id":   "p-9",
		"warehouse_id": "w-1",
		"quantity":     5,
		"type":         "inbound",
	}, core.CategoryCreateMovement)
	require.True(t, res.OK)
	assert.Equal(t, "inbound", res.Normalized["movement_type"])
}
