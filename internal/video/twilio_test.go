package video

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"consult-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

func testProvider(baseURL string) *TwilioProvider {
	p := NewTwilioProvider(config.VideoConfig{
		AccountSID:   "AC_test",
		APIKeySID:    "SK_test",
		APIKeySecret: "top-secret",
	})
	if baseURL != "" {
		p.baseURL = baseURL
	}
	p.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return p
}

func TestGenerateTokenGrants(t *testing.T) {
	p := testProvider("")

	signed, err := p.GenerateToken(context.Background(), "user-1", "RM123")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return []byte("top-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time {
		return time.Unix(1700000000, 0).UTC()
	}))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cty := parsed.Header["cty"]; cty != "twilio-fpa;v=1" {
		t.Fatalf("cty = %v", cty)
	}

	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "SK_test" || claims["sub"] != "AC_test" {
		t.Fatalf("unexpected iss/sub: %v / %v", claims["iss"], claims["sub"])
	}
	grants, ok := claims["grants"].(map[string]any)
	if !ok {
		t.Fatalf("grants missing: %v", claims)
	}
	if grants["identity"] != "user-1" {
		t.Fatalf("identity grant = %v", grants["identity"])
	}
	videoGrant, ok := grants["video"].(map[string]any)
	if !ok || videoGrant["room"] != "RM123" {
		t.Fatalf("video grant = %v", grants["video"])
	}
}

func TestCreateRoomFetchesExistingOnConflict(t *testing.T) {
	var createCalls, fetchCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			createCalls++
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			fetchCalls++
			json.NewEncoder(w).Encode(map[string]string{"sid": "RM_existing", "unique_name": "session-1"})
		}
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	room, err := p.CreateRoom(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID != "RM_existing" || room.Name != "session-1" {
		t.Fatalf("room = %+v", room)
	}
	if createCalls != 1 || fetchCalls != 1 {
		t.Fatalf("calls = %d create, %d fetch", createCalls, fetchCalls)
	}
}

func TestCreateRoomRecognizesRoomExistsCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"code": 53113, "message": "Room exists"})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]string{"sid": "RM_existing", "unique_name": "session-1"})
		}
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	room, err := p.CreateRoom(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.ID != "RM_existing" {
		t.Fatalf("room = %+v", room)
	}
}
