package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestPresenceHandler_RegisterFindRemove(t *testing.T) {
	d := newTestDeps()

	rr := d.do(http.MethodPost, "/api/presence", `{"session_id":"ws-1","user_id":"`+testUserID.String()+`","roles":["ADMIN"]}`, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = d.do(http.MethodGet, "/api/presence?role=ADMIN&role=SUPER_ADMIN", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Users []uuid.UUID `json:"users"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0] != testUserID {
		t.Fatalf("unexpected users %v", resp.Users)
	}

	rr = d.do(http.MethodDelete, "/api/presence/ws-1", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if d.registry.IsUserActive(testUserID) {
		t.Fatalf("user must be inactive after last session removed")
	}
}

func TestPresenceHandler_Register_Validation(t *testing.T) {
	d := newTestDeps()
	rr := d.do(http.MethodPost, "/api/presence", `{"session_id":""}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPresenceHandler_Register_Closed(t *testing.T) {
	d := newTestDeps()
	_ = d.registry.Close()

	rr := d.do(http.MethodPost, "/api/presence", `{"session_id":"ws-2","user_id":"`+testUserID.String()+`"}`, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestPresenceHandler_ActiveUsers_RequiresRole(t *testing.T) {
	d := newTestDeps()
	rr := d.do(http.MethodGet, "/api/presence", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
