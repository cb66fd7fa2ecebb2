package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/TheShiveshNetwork/sayonara/internal/domain"
)

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// client talks to the sayonara HTTP API.
type client struct {
	base string
	http *retryablehttp.Client
}

func newClient(base string, timeout time.Duration) *client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	// Only reads are replayed on a server error.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if resp != nil && resp.Request != nil && resp.Request.Method != http.MethodGet {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return &client{base: strings.TrimRight(base, "/"), http: rc}
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = string(bytes.TrimSpace(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var resp struct {
		Devices []domain.Device `json:"devices"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/devices", nil, &resp)
	return resp.Devices, err
}

func (c *client) RefreshHealth(ctx context.Context, deviceID string) (*domain.Device, error) {
	var d domain.Device
	err := c.do(ctx, http.MethodPost, "/api/v1/devices/"+url.PathEscape(deviceID)+"/health", nil, &d)
	return &d, err
}

func (c *client) ListMethods(ctx context.Context, deviceID string) ([]domain.Method, error) {
	var resp struct {
		Methods []domain.Method `json:"methods"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/devices/"+url.PathEscape(deviceID)+"/methods", nil, &resp)
	return resp.Methods, err
}

func (c *client) StartJob(ctx context.Context, req domain.StartJobRequest) (*domain.StartJobResponse, error) {
	var resp domain.StartJobResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &resp)
	return &resp, err
}

func (c *client) JobStatus(ctx context.Context, id string) (*domain.JobStatus, error) {
	var s domain.JobStatus
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &s)
	return &s, err
}

func (c *client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *client) Certificate(ctx context.Context, id string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id)+"/certificate", nil, &cert)
	return &cert, err
}

func (c *client) ReissueCertificate(ctx context.Context, id string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/certificate/reissue", nil, &cert)
	return &cert, err
}

// verification is the server's integrity check of a certificate.
type verification struct {
	CertificateID string `json:"certificate_id"`
	ContentHash   string `json:"content_hash"`
	Signed        bool   `json:"signed"`
	Valid         bool   `json:"valid"`
	Error         string `json:"error,omitempty"`
}

func (c *client) VerifyCertificate(ctx context.Context, id string) (*verification, error) {
	var v verification
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id)+"/certificate/verify", nil, &v)
	return &v, err
}

func (c *client) Anchor(ctx context.Context, id string) (*domain.AnchorReceipt, error) {
	var r domain.AnchorReceipt
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/anchor", nil, &r)
	return &r, err
}

func (c *client) AnchorStatus(ctx context.Context, txRef string) (*domain.AnchorReceipt, error) {
	var r domain.AnchorReceipt
	err := c.do(ctx, http.MethodGet, "/api/v1/anchors/"+url.PathEscape(txRef), nil, &r)
	return &r, err
}

// Watch streams job status until the job is terminal, calling fn for every update.
func (c *client) Watch(ctx context.Context, id string, fn func(domain.JobStatus)) error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/api/v1/jobs/" + url.PathEscape(id) + "/stream"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return &apiError{Status: resp.StatusCode, Message: "stream refused"}
		}
		return err
	}
	defer conn.Close()

	for {
		var s domain.JobStatus
		if err := conn.ReadJSON(&s); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fn(s)
	}
}
