package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSide_Wire(t *testing.T) {
	assert.Equal(t, "buy", Buy.String())
	assert.Equal(t, "sell", Sell.String())
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())

	s, err := ParseSide("buy")
	require.NoError(t, err)
	assert.Equal(t, Buy, s)
	s, err = ParseSide("SELL")
	require.NoError(t, err)
	assert.Equal(t, Sell, s)
	_, err = ParseSide("hold")
	assert.Error(t, err)
}

func TestNewOrderRequest_JSON(t *testing.T) {
	req := NewOrderRequest{UserID: 7, Symbol: "BTCZ25", Side: Sell, Price: 50100, Quantity: 3}
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":7,"symbol":"BTCZ25","side":"sell","price":50100,"quantity":3}`, string(raw))

	var back NewOrderRequest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, req, back)

	var bad NewOrderRequest
	err = json.Unmarshal([]byte(`{"side":"limit"}`), &bad)
	assert.Error(t, err)
}
