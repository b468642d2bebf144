package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchID(t *testing.T) {
	for _, ok := range []string{"BRANCH_001", "BRANCH_999"} {
		assert.NoError(t, BranchID(ok), ok)
	}
	for _, bad := range []string{"", "   ", "BRANCH_1", "branch_001", "BRANCH_0001", "SHOP_001"} {
		var fe *FieldError
		require.ErrorAs(t, BranchID(bad), &fe, bad)
		assert.Equal(t, "branch_id", fe.Field)
	}
}

func TestCustomerNameAndOrderDetails(t *testing.T) {
	assert.NoError(t, CustomerName("An"))
	assert.Error(t, CustomerName(" A "))
	assert.Error(t, CustomerName(""))

	assert.NoError(t, OrderDetails("tea"))
	assert.Error(t, OrderDetails("  ab "))
}

func TestServerHostAndPort(t *testing.T) {
	assert.NoError(t, ServerHost("10.0.0.2"))
	assert.Error(t, ServerHost(" "))

	assert.NoError(t, Port("http_port", "8889"))
	for _, bad := range []string{"0", "65536", "abc", ""} {
		assert.Error(t, Port("http_port", bad), bad)
	}
}

func TestSettingsSchema(t *testing.T) {
	s, err := NewSettingsSchema()
	require.NoError(t, err)

	doc, err := s.Decode([]byte(`{"branch_id":"BRANCH_002","http_port":9000}`))
	require.NoError(t, err)
	assert.Equal(t, "BRANCH_002", doc["branch_id"])
	assert.Equal(t, float64(9000), doc["http_port"])

	for name, body := range map[string]string{
		"empty object":  `{}`,
		"unknown key":   `{"colour":"brown"}`,
		"bad branch":    `{"branch_id":"B1"}`,
		"port range":    `{"server_port":70000}`,
		"port as text":  `{"server_port":"8888"}`,
		"fraction":      `{"http_port":80.5}`,
		"not an object": `[1,2]`,
		"not JSON":      `{`,
	} {
		_, err := s.Decode([]byte(body))
		assert.Error(t, err, name)
	}
}
