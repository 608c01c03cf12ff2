package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	steamResultOK        = "OK"
)

var (
	// ErrTicketRejected indicates the identity provider explicitly refused the ticket.
	ErrTicketRejected = errors.New("auth: ticket rejected by identity provider")
	// ErrUpstreamUnavailable indicates the identity provider could not be reached or answered unintelligibly.
	ErrUpstreamUnavailable = errors.New("auth: identity provider unavailable")
	// ErrInvalidSteamID indicates a value that is not a positive decimal Steam identifier.
	ErrInvalidSteamID = errors.New("auth: invalid steam id")
	// ErrInvalidVerifierConfig indicates the verifier cannot be constructed from the supplied config.
	ErrInvalidVerifierConfig = errors.New("auth: invalid steam verifier config")

	errMissingTicket    = errors.New("ticket must not be empty")
	errMissingAPIURL    = errors.New("api url configuration required")
	errMissingWebAPIKey = errors.New("web api key configuration required")
)

// SteamID is the numeric identity resolved from a Steam session ticket.
type SteamID int64

// ParseSteamID parses a positive decimal Steam identifier.
func ParseSteamID(raw string) (SteamID, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSteamID, err)
	}
	if value == 0 {
		return 0, fmt.Errorf("%w: zero", ErrInvalidSteamID)
	}
	return SteamID(value), nil
}

// Int64 exposes the identifier in its storage representation.
func (id SteamID) Int64() int64 {
	return int64(id)
}

// String renders the identifier in decimal form.
func (id SteamID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// SteamVerifierConfig bundles configuration required to instantiate a SteamVerifier.
type SteamVerifierConfig struct {
	APIURL     string
	WebAPIKey  string
	AppID      int
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// SteamVerifier exchanges session tickets for Steam identities through the
// ISteamUserAuth/AuthenticateUserTicket Web API.
type SteamVerifier struct {
	apiURL     string
	webAPIKey  string
	appID      int
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewSteamVerifier constructs a verifier with validated configuration.
func NewSteamVerifier(cfg SteamVerifierConfig) (*SteamVerifier, error) {
	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAPIURL)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, err)
	}

	webAPIKey := strings.TrimSpace(cfg.WebAPIKey)
	if webAPIKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingWebAPIKey)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SteamVerifier{
		apiURL:     apiURL,
		webAPIKey:  webAPIKey,
		appID:      cfg.AppID,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Verify validates the ticket with Steam and returns the owning identity.
// Explicit refusals wrap ErrTicketRejected; transport, status and payload
// failures wrap ErrUpstreamUnavailable.
func (v *SteamVerifier) Verify(ctx context.Context, ticket string) (SteamID, error) {
	if ticket == "" {
		return 0, fmt.Errorf("%w: %v", ErrTicketRejected, errMissingTicket)
	}

	requestCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, v.requestURL(ticket), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := v.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, response.StatusCode)
	}

	var document authenticateTicketDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", ErrUpstreamUnavailable, err)
	}

	if providerErr := document.Response.Error; providerErr != nil {
		return 0, fmt.Errorf("%w: code %d: %s", ErrTicketRejected, providerErr.Code, providerErr.Description)
	}
	params := document.Response.Params
	if params == nil {
		return 0, fmt.Errorf("%w: response missing params", ErrUpstreamUnavailable)
	}
	if params.Result != steamResultOK {
		return 0, fmt.Errorf("%w: result %q", ErrTicketRejected, params.Result)
	}

	steamID, err := ParseSteamID(params.SteamID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	if params.VACBanned || params.PublisherBanned {
		v.logger.Info("steam ticket owner carries a ban flag",
			zap.String("steam_id", steamID.String()),
			zap.Bool("vac_banned", params.VACBanned),
			zap.Bool("publisher_banned", params.PublisherBanned))
	}

	return steamID, nil
}

func (v *SteamVerifier) requestURL(ticket string) string {
	query := url.Values{}
	query.Set("key", v.webAPIKey)
	query.Set("appid", strconv.Itoa(v.appID))
	query.Set("ticket", ticket)

	separator := "?"
	if strings.Contains(v.apiURL, "?") {
		separator = "&"
	}
	return v.apiURL + separator + query.Encode()
}

type authenticateTicketDocument struct {
	Response struct {
		Params *authenticateTicketParams `json:"params"`
		Error  *authenticateTicketError  `json:"error"`
	} `json:"response"`
}

type authenticateTicketParams struct {
	Result          string `json:"result"`
	SteamID         string `json:"steamid"`
	OwnerSteamID    string `json:"ownersteamid"`
	VACBanned       bool   `json:"vacbanned"`
	PublisherBanned bool   `json:"publisherbanned"`
}

type authenticateTicketError struct {
	Code        int    `json:"errorcode"`
	Description string `json:"errordesc"`
}
