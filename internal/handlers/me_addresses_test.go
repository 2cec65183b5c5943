package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/fleetbite/api/internal/services"
)

func TestMeHandlersListAddresses(t *testing.T) {
	created := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)
	service := &stubUserService{
		listAddressesFunc: func(ctx context.Context, userID string) ([]services.Address, error) {
			return []services.Address{
				{
					ID:        "addr-1",
					UserID:    userID,
					Label:     "Home",
					Line1:     "12 Elm St",
					City:      "Springfield",
					Country:   "US",
					IsDefault: true,
					CreatedAt: created,
					UpdatedAt: created,
				},
			}, nil
		},
	}

	rr := serveMe(t, service, http.MethodGet, "/me/addresses", "", customerIdentity("user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Addresses []struct {
			ID        string `json:"id"`
			Label     string `json:"label"`
			IsDefault bool   `json:"is_default"`
		} `json:"addresses"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Addresses) != 1 {
		t.Fatalf("expected one address, got %d", len(resp.Addresses))
	}
	if resp.Addresses[0].ID != "addr-1" || !resp.Addresses[0].IsDefault {
		t.Fatalf("unexpected address payload %+v", resp.Addresses[0])
	}
}

func TestMeHandlersCreateAddress(t *testing.T) {
	var got services.UpsertAddressCommand
	service := &stubUserService{
		upsertAddressFunc: func(ctx context.Context, cmd services.UpsertAddressCommand) (services.Address, error) {
			got = cmd
			saved := cmd.Address
			saved.ID = "addr-new"
			saved.UserID = cmd.UserID
			saved.IsDefault = cmd.IsDefault
			return saved, nil
		},
	}

	body := `{"label":"Office","line1":"500 Market St","city":"Springfield","region":"IL","postal_code":"62701","country":"US","lat":39.8,"lng":-89.65,"is_default":true}`
	rr := serveMe(t, service, http.MethodPost, "/me/addresses", body, customerIdentity("user-7"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.AddressID != nil {
		t.Fatalf("create must not carry an address id, got %v", *got.AddressID)
	}
	if got.Address.Label != "Office" || got.Address.Coordinates.Lat != 39.8 {
		t.Fatalf("unexpected address %+v", got.Address)
	}
	if !got.IsDefault {
		t.Fatalf("expected default flag to be forwarded")
	}

	var resp struct {
		Address struct {
			ID string `json:"id"`
		} `json:"address"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Address.ID != "addr-new" {
		t.Fatalf("unexpected address id %q", resp.Address.ID)
	}
}

func TestMeHandlersUpdateAddress(t *testing.T) {
	var got services.UpsertAddressCommand
	service := &stubUserService{
		upsertAddressFunc: func(ctx context.Context, cmd services.UpsertAddressCommand) (services.Address, error) {
			got = cmd
			saved := cmd.Address
			saved.ID = *cmd.AddressID
			return saved, nil
		},
	}

	body := `{"label":"Home","line1":"12 Elm St","city":"Springfield","country":"US"}`
	rr := serveMe(t, service, http.MethodPut, "/me/addresses/addr-1", body, customerIdentity("user-7"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.AddressID == nil || *got.AddressID != "addr-1" {
		t.Fatalf("expected address id addr-1, got %+v", got.AddressID)
	}
}

func TestMeHandlersUpdateAddressNotFound(t *testing.T) {
	service := &stubUserService{
		upsertAddressFunc: func(ctx context.Context, cmd services.UpsertAddressCommand) (services.Address, error) {
			return services.Address{}, services.ErrUserAddressNotFound
		},
	}

	rr := serveMe(t, service, http.MethodPut, "/me/addresses/addr-404", `{"line1":"12 Elm St"}`, customerIdentity("user-7"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to parse error: %v", err)
	}
	if envelope.Error != "address_not_found" {
		t.Fatalf("unexpected error code %q", envelope.Error)
	}
}

func TestMeHandlersDeleteAddress(t *testing.T) {
	var got services.DeleteAddressCommand
	service := &stubUserService{
		deleteAddressFunc: func(ctx context.Context, cmd services.DeleteAddressCommand) error {
			got = cmd
			return nil
		},
	}

	rr := serveMe(t, service, http.MethodDelete, "/me/addresses/addr-1", "", customerIdentity("user-7"))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if got.UserID != "user-7" || got.AddressID != "addr-1" {
		t.Fatalf("unexpected command %+v", got)
	}
}

func TestMeHandlersCreateAddressInvalid(t *testing.T) {
	service := &stubUserService{
		upsertAddressFunc: func(ctx context.Context, cmd services.UpsertAddressCommand) (services.Address, error) {
			return services.Address{}, services.ErrUserInvalidAddress
		},
	}

	rr := serveMe(t, service, http.MethodPost, "/me/addresses", `{"label":"Home"}`, customerIdentity("user-7"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
