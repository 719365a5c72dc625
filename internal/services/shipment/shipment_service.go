package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type ShipmentService struct {
	client  *resty.Client
	baseURL string
}

type CreateRequest struct {
	ToAddress   string `json:"to_address"`
	ToName      string `json:"to_name"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
}

type CreateResponse struct {
	ReserveID   string `json:"reserve_id"`
	ReserveTime int64  `json:"reserve_time"`
}

type StatusResponse struct {
	Status      string `json:"status"`
	ReserveTime int64  `json:"reserve_time"`
}

func NewShipmentService(baseURL string) *ShipmentService {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	client.SetHeader("User-Agent", "fleamarket/1.0")
	client.SetHeader("Content-Type", "application/json")

	return &ShipmentService{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Create reserves a pickup for a new transaction
func (s *ShipmentService) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	var cr CreateResponse
	if err := s.post(ctx, "/create", req, &cr); err != nil {
		return nil, err
	}
	if cr.ReserveID == "" {
		return nil, fmt.Errorf("shipment API error: empty reserve id")
	}
	return &cr, nil
}

// Status reports where the reservation currently is
func (s *ShipmentService) Status(ctx context.Context, reserveID string) (*StatusResponse, error) {
	var sr StatusResponse
	body := map[string]string{"reserve_id": reserveID}
	if err := s.post(ctx, "/status", body, &sr); err != nil {
		return nil, err
	}
	return &sr, nil
}

// Request asks for a pickup and returns the label image the seller prints
func (s *ShipmentService) Request(ctx context.Context, reserveID string) ([]byte, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"reserve_id": reserveID}).
		Post(s.baseURL + "/request")

	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, fmt.Errorf("shipment API error: /request returned %d", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return nil, fmt.Errorf("shipment API error: empty label")
	}

	return resp.Body(), nil
}

func (s *ShipmentService) post(ctx context.Context, path string, body, out interface{}) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(s.baseURL + path)

	if err != nil {
		return err
	}

	if resp.IsError() {
		return fmt.Errorf("shipment API error: %s returned %d", path, resp.StatusCode())
	}

	return json.Unmarshal(resp.Body(), out)
}
