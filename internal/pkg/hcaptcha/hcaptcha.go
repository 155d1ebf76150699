package hcaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DanielKirsch/CourseHive/internal/pkg/env"
)

const verifyURL = "https://hcaptcha.com/siteverify"

var client = &http.Client{Timeout: 10 * time.Second}

type verifyResponse struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Verify checks a client-side hCaptcha token against the siteverify API.
func Verify(token string) (bool, error) {
	if token == "" {
		return false, fmt.Errorf("hCaptcha token is empty")
	}
	secret := env.GetEnv("HCAPTCHA_SECRET", "")
	if secret == "" {
		return false, fmt.Errorf("hCaptcha secret is not set")
	}

	form := url.Values{
		"secret":   {secret},
		"response": {token},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build hCaptcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to reach hCaptcha API: %w", err)
	}
	defer resp.Body.Close()

	var result verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode hCaptcha response: %w", err)
	}
	if !result.Success {
		if len(result.ErrorCodes) > 0 {
			return false, fmt.Errorf("hCaptcha validation failed: %s", strings.Join(result.ErrorCodes, ", "))
		}
		return false, fmt.Errorf("hCaptcha validation failed")
	}
	return true, nil
}
