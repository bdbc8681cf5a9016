package video

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"consult-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const twilioVideoBaseURL = "https://video.twilio.com/v1"

// TwilioProvider talks to the Twilio Video REST API and mints room-scoped
// access tokens. Tokens are Twilio-grammar JWTs signed with the API key
// secret; no SDK is involved.
type TwilioProvider struct {
	accountSID   string
	apiKeySID    string
	apiKeySecret string

	httpClient *http.Client
	baseURL    string
	clock      func() time.Time
}

func NewTwilioProvider(cfg config.VideoConfig) *TwilioProvider {
	return &TwilioProvider{
		accountSID:   cfg.AccountSID,
		apiKeySID:    cfg.APIKeySID,
		apiKeySecret: cfg.APIKeySecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		baseURL:      twilioVideoBaseURL,
		clock:        time.Now,
	}
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioRoom struct {
	SID        string `json:"sid"`
	UniqueName string `json:"unique_name"`
	Status     string `json:"status"`
}

// CreateRoom creates a room by unique name, fetching the existing one when
// Twilio reports the name is already in use.
func (p *TwilioProvider) CreateRoom(ctx context.Context, name string) (Room, error) {
	form := url.Values{}
	form.Set("UniqueName", name)
	form.Set("Type", "group")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/Rooms", strings.NewReader(form.Encode()))
	if err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.apiKeySID, p.apiKeySecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("%w: create room: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var tr twilioRoom
		if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
			return Room{}, fmt.Errorf("%w: decode room: %v", ErrProviderFailure, err)
		}
		return Room{ID: tr.SID, Name: tr.UniqueName}, nil
	case resp.StatusCode == http.StatusConflict || isRoomExists(resp):
		return p.fetchRoom(ctx, name)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Room{}, fmt.Errorf("%w: create room status %d: %s", ErrProviderFailure, resp.StatusCode, body)
	}
}

// isRoomExists checks for Twilio error 53113 (room exists), which arrives as
// a 400 rather than a 409.
func isRoomExists(resp *http.Response) bool {
	if resp.StatusCode != http.StatusBadRequest {
		return false
	}
	var e struct {
		Code int `json:"code"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false
	}
	// Body is consumed; rewrap so later readers see it.
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	return e.Code == 53113
}

func (p *TwilioProvider) fetchRoom(ctx context.Context, name string) (Room, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/Rooms/"+url.PathEscape(name), nil)
	if err != nil {
		return Room{}, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	req.SetBasicAuth(p.apiKeySID, p.apiKeySecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("%w: fetch room: %v", ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Room{}, fmt.Errorf("%w: fetch room status %d", ErrProviderFailure, resp.StatusCode)
	}
	var tr twilioRoom
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Room{}, fmt.Errorf("%w: decode room: %v", ErrProviderFailure, err)
	}
	return Room{ID: tr.SID, Name: tr.UniqueName}, nil
}

// GenerateToken mints a Twilio video access token: HS256 JWT issued by the
// API key, subject of the account, with an identity + room grant.
func (p *TwilioProvider) GenerateToken(ctx context.Context, identity, roomID string) (string, error) {
	now := p.clock().UTC()

	claims := jwt.MapClaims{
		"jti": p.apiKeySID + "-" + uuid.NewString(),
		"iss": p.apiKeySID,
		"sub": p.accountSID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"grants": map[string]any{
			"identity": identity,
			"video": map[string]any{
				"room": roomID,
			},
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["cty"] = "twilio-fpa;v=1"

	signed, err := t.SignedString([]byte(p.apiKeySecret))
	if err != nil {
		return "", fmt.Errorf("%w: sign token: %v", ErrProviderFailure, err)
	}
	return signed, nil
}
