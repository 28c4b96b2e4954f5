package service

import (
	"context"
	"testing"

	"github.com/DanielKano/otaku-shop-sub000/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCalculateTotal(t *testing.T) {
	cs := &CheckoutService{}

	items := []OrderItemRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}

	products := map[int64]*models.Product{
		1: {ID: 1, Price: 1000},
		2: {ID: 2, Price: 500},
	}

	total := cs.calculateTotal(items, products)

	expected := int64(2*1000 + 1*500) // 2500
	assert.Equal(t, expected, total)
}

func TestCreateOrderRequiresExactlyOneOwner(t *testing.T) {
	cs := &CheckoutService{}
	ctx := context.Background()

	userID := int64(42)
	sessionID := "sess-a"
	items := []OrderItemRequest{{ProductID: 1, Quantity: 1}}

	_, err := cs.CreateOrder(ctx, &CreateOrderRequest{Items: items})
	assert.Error(t, err)

	_, err = cs.CreateOrder(ctx, &CreateOrderRequest{
		UserID:    &userID,
		SessionID: &sessionID,
		Items:     items,
	})
	assert.Error(t, err)
}

func TestValidateOrderItems(t *testing.T) {
	// This would require mocking the store
	t.Skip("Requires mocked store")
}
