package shared

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTableRequestDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/users/data", nil)
	req := ParseTableRequest(r)
	assert.Equal(t, 0, req.Draw)
	assert.Equal(t, 0, req.Start)
	assert.Equal(t, 10, req.Length)
	assert.Equal(t, "", req.Search)
	assert.Equal(t, "DESC", req.Direction())
	assert.Equal(t, "u.created_at", req.OrderColumn(map[string]string{"email": "u.email"}, "u.created_at"))
}

func TestParseTableRequestOrdering(t *testing.T) {
	r := httptest.NewRequest("GET", "/users/data?draw=3&start=20&length=500&search%5Bvalue%5D=+ann+&order%5B0%5D%5Bcolumn%5D=1&order%5B0%5D%5Bdir%5D=asc&columns%5B1%5D%5Bdata%5D=email", nil)
	req := ParseTableRequest(r)
	require.Equal(t, 3, req.Draw)
	assert.Equal(t, 20, req.Start)
	assert.Equal(t, 100, req.Length)
	assert.Equal(t, "ann", req.Search)
	assert.Equal(t, "ASC", req.Direction())
	assert.Equal(t, "u.email", req.OrderColumn(map[string]string{"email": "u.email"}, "u.created_at"))
}

func TestParseTableRequestRejectsUnknownColumn(t *testing.T) {
	r := httptest.NewRequest("GET", "/users/data?order%5B0%5D%5Bcolumn%5D=0&columns%5B0%5D%5Bdata%5D=password_hash", nil)
	req := ParseTableRequest(r)
	assert.Equal(t, "u.created_at", req.OrderColumn(map[string]string{"email": "u.email"}, "u.created_at"))
}

func TestNewTableResponseEmitsEmptyArray(t *testing.T) {
	resp := NewTableResponse[int](TableRequest{Draw: 7}, 0, 0, nil)
	assert.Equal(t, 7, resp.Draw)
	assert.NotNil(t, resp.Data)
	assert.Len(t, resp.Data, 0)
}
