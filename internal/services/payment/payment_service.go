package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Token statuses returned by the payment service
const (
	StatusOK      = "ok"
	StatusInvalid = "invalid"
	StatusFail    = "fail"
)

type PaymentService struct {
	shopID  string
	apiKey  string
	client  *resty.Client
	baseURL string
}

type tokenRequest struct {
	ShopID string `json:"shop_id"`
	Token  string `json:"token"`
	APIKey string `json:"api_key"`
	Price  int    `json:"price"`
}

type TokenResponse struct {
	Status string `json:"status"`
}

func NewPaymentService(baseURL, shopID, apiKey string) *PaymentService {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetHeader("User-Agent", "fleamarket/1.0")
	client.SetHeader("Content-Type", "application/json")

	return &PaymentService{
		shopID:  shopID,
		apiKey:  apiKey,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Token charges price to the card behind token and reports the outcome status.
func (p *PaymentService) Token(ctx context.Context, token string, price int) (*TokenResponse, error) {
	url := fmt.Sprintf("%s/token", p.baseURL)

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(tokenRequest{
			ShopID: p.shopID,
			Token:  token,
			APIKey: p.apiKey,
			Price:  price,
		}).
		Post(url)

	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, fmt.Errorf("payment API error: status %d", resp.StatusCode())
	}

	var tr TokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return nil, err
	}

	return &tr, nil
}
