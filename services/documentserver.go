package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"docconvert/config"
	"docconvert/models"

	"github.com/golang-jwt/jwt/v5"
)

const convertServicePath = "/ConvertService.ashx"

// DocumentServerClient talks to the ConvertService endpoint of the
// document server. It holds no per-conversion state and may be shared.
type DocumentServerClient struct {
	baseURL   string
	publicURL string
	secret    string
	client    *http.Client
}

func NewDocumentServerClient(cfg *config.Config) *DocumentServerClient {
	return &DocumentServerClient{
		baseURL:   strings.TrimRight(cfg.DocServerInternalURL, "/"),
		publicURL: strings.TrimRight(cfg.DocServerPublicURL, "/"),
		secret:    cfg.DocServerSecret,
		client:    &http.Client{Timeout: cfg.RequestTimeoutDuration()},
	}
}

type convertResponse struct {
	EndConvert *bool        `json:"endConvert"`
	Done       *bool        `json:"done"`
	FileURL    string       `json:"fileUrl"`
	ResultURL  string       `json:"resultUrl"`
	Percent    int          `json:"percent"`
	Error      *remoteError `json:"error"`
}

// remoteError accepts both shapes the server uses: a bare negative code
// or an object with code and message.
type remoteError struct {
	Code    int
	Message string
}

func (e *remoteError) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &e.Code); err == nil {
		return nil
	}
	var obj struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		e.Message = obj.Message
		e.Code = parseCode(obj.Code)
		return nil
	}
	return json.Unmarshal(data, &e.Message)
}

func (e *remoteError) empty() bool {
	return e == nil || (e.Code == 0 && e.Message == "")
}

func parseCode(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, _ = strconv.Atoi(strings.TrimSpace(s))
	}
	return n
}

// RequestConversion submits req, or re-submits it when the key is already
// known to the server, and reports how far the conversion got.
func (d *DocumentServerClient) RequestConversion(ctx context.Context, req models.ConversionRequest) (models.RemoteConversionResult, error) {
	body, authHeader, err := d.encode(req)
	if err != nil {
		return models.RemoteConversionResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+convertServicePath, bytes.NewReader(body))
	if err != nil {
		return models.RemoteConversionResult{}, &models.TransportError{Op: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if authHeader != "" {
		httpReq.Header.Set("Authorization", authHeader)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return models.RemoteConversionResult{}, &models.TransportError{Op: "document server request", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.RemoteConversionResult{}, &models.TransportError{Op: "read document server response", Err: err}
	}

	return d.decode(resp.StatusCode, raw)
}

func (d *DocumentServerClient) encode(req models.ConversionRequest) ([]byte, string, error) {
	if d.secret == "" {
		body, err := json.Marshal(req)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return body, "", nil
	}

	claims, err := requestClaims(req)
	if err != nil {
		return nil, "", err
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(d.secret))
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign request: %w", err)
	}
	headerToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"payload": map[string]any(claims)}).
		SignedString([]byte(d.secret))
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign request header: %w", err)
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, headerToken, nil
}

// requestClaims turns the request into the flat claim set the server
// expects inside the token.
func requestClaims(req models.ConversionRequest) (jwt.MapClaims, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("failed to build claims: %w", err)
	}
	return claims, nil
}

func (d *DocumentServerClient) decode(statusCode int, raw []byte) (models.RemoteConversionResult, error) {
	var parsed convertResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.RemoteConversionResult{}, &models.ProtocolError{
			StatusCode: statusCode,
			Message:    fmt.Sprintf("undecodable response: %v", err),
			Body:       string(raw),
		}
	}

	if !parsed.Error.empty() {
		protoErr := &models.ProtocolError{
			StatusCode: statusCode,
			Code:       parsed.Error.Code,
			Message:    parsed.Error.Message,
			Body:       string(raw),
		}
		if protoErr.Code == models.AuthErrorCode {
			reason := models.ErrSecretRejected
			if d.secret == "" {
				reason = models.ErrSecretMissing
			}
			return models.RemoteConversionResult{}, &models.AuthenticationError{Reason: reason, ProtocolError: protoErr}
		}
		return models.RemoteConversionResult{}, protoErr
	}

	if statusCode < 200 || statusCode > 299 {
		return models.RemoteConversionResult{}, &models.ProtocolError{
			StatusCode: statusCode,
			Message:    http.StatusText(statusCode),
			Body:       string(raw),
		}
	}

	done := (parsed.EndConvert != nil && *parsed.EndConvert) || (parsed.Done != nil && *parsed.Done)
	resultURL := parsed.FileURL
	if resultURL == "" {
		resultURL = parsed.ResultURL
	}
	if done && resultURL == "" {
		return models.RemoteConversionResult{}, &models.ProtocolError{
			StatusCode: statusCode,
			Message:    "conversion finished without a result URL",
			Body:       string(raw),
		}
	}

	return models.RemoteConversionResult{
		Done:      done,
		ResultURL: d.internalise(resultURL),
		Percent:   parsed.Percent,
	}, nil
}

// internalise maps result links the server builds from its public address
// back onto the address this service uses to reach it.
func (d *DocumentServerClient) internalise(resultURL string) string {
	if d.publicURL == "" || d.publicURL == d.baseURL {
		return resultURL
	}
	if strings.HasPrefix(resultURL, d.publicURL) {
		return d.baseURL + strings.TrimPrefix(resultURL, d.publicURL)
	}
	return resultURL
}
