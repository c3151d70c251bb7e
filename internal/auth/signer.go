package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"
)

// Signer produces HMAC-SHA256 signatures for signed futures API requests.
type Signer struct {
	apiKey     string
	apiSecret  string
	recvWindow int64
}

// NewSigner creates a new signer with the default recv window
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: 5000,
	}
}

// NewSignerWithRecvWindow creates a new signer with a custom recv window
func NewSignerWithRecvWindow(apiKey, apiSecret string, recvWindow int64) *Signer {
	return &Signer{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: recvWindow,
	}
}

// APIKey returns the API key sent in the X-MBX-APIKEY header
func (s *Signer) APIKey() string {
	return s.apiKey
}

// RecvWindow returns the recv window value
func (s *Signer) RecvWindow() int64 {
	return s.recvWindow
}

// Sign generates the HMAC-SHA256 signature over the encoded query string
func (s *Signer) Sign(params url.Values) string {
	queryString := params.Encode()

	h := hmac.New(sha256.New, []byte(s.apiSecret))
	h.Write([]byte(queryString))

	return hex.EncodeToString(h.Sum(nil))
}

// SignedRequest adds timestamp, recvWindow and signature to parameters
func (s *Signer) SignedRequest(params url.Values) url.Values {
	signedParams := make(url.Values)
	for key, values := range params {
		for _, value := range values {
			signedParams.Add(key, value)
		}
	}

	// Always set a fresh timestamp
	signedParams.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))

	if signedParams.Get("recvWindow") == "" {
		signedParams.Set("recvWindow", fmt.Sprintf("%d", s.recvWindow))
	}

	signature := s.Sign(signedParams)
	signedParams.Set("signature", signature)

	return signedParams
}

// ValidateSignature verifies a signature against the given parameters
func (s *Signer) ValidateSignature(params url.Values, signature string) bool {
	expectedSignature := s.Sign(params)
	return hmac.Equal([]byte(expectedSignature), []byte(signature))
}
