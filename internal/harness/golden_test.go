package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_RenameCustomer(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/rename_customer.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestGolden_NewCustomerWithOrder(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/new_customer_with_order.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestResultText_MarksFailedSteps(t *testing.T) {
	r := NewResult()
	r.Trace = append(r.Trace, TraceEvent{Step: 1, Op: OpNext, Object: "customers", Error: "no records in data set"})

	assert.Equal(t, "# x\n1 next customers ! no records in data set\n", r.Text("x"))
}
