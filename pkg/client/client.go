package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"rul-backend/pkg/api"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

const (
	BaseContext   = "base"
	CustomContext = "custom"
)

// Client talks to the backend api. The session cookie issued on the first
// request is kept for the lifetime of the Client, so an upload followed by a
// custom prediction must use the same Client.
type Client struct {
	client   *resty.Client
	progress io.Writer
}

func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		client: resty.New().SetBaseURL(strings.TrimSuffix(baseURL, "/") + "/api/v1").SetCookieJar(jar),
	}
}

// WithProgress renders a progress bar to w while downloading predictions.
func (c *Client) WithProgress(w io.Writer) *Client {
	c.progress = w
	return c
}

type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

func checkResponse(res *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if res.IsError() {
		return &Error{StatusCode: res.StatusCode(), Message: strings.TrimSpace(res.String())}
	}
	return nil
}

func (c *Client) Health(ctx context.Context) error {
	return checkResponse(c.client.R().SetContext(ctx).Get("/health"))
}

func (c *Client) predict(ctx context.Context, runContext string, limit int) (api.PredictionResponse, error) {
	var out api.PredictionResponse

	req := c.client.R().SetContext(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	if err := checkResponse(req.Post("/predictions/" + runContext)); err != nil {
		return out, fmt.Errorf("%s prediction failed: %w", runContext, err)
	}
	return out, nil
}

func (c *Client) PredictBase(ctx context.Context, limit int) (api.PredictionResponse, error) {
	return c.predict(ctx, BaseContext, limit)
}

func (c *Client) PredictCustom(ctx context.Context, limit int) (api.PredictionResponse, error) {
	return c.predict(ctx, CustomContext, limit)
}

func (c *Client) Upload(ctx context.Context, path string) (api.UploadResponse, error) {
	var out api.UploadResponse

	res, err := c.client.R().SetContext(ctx).SetFile("file", path).SetResult(&out).Post("/uploads")
	if err := checkResponse(res, err); err != nil {
		return out, fmt.Errorf("upload of %s failed: %w", path, err)
	}
	return out, nil
}

// Download writes the latest prediction artifact for runContext to dst and
// returns the number of bytes written.
func (c *Client) Download(ctx context.Context, runContext string, dst io.Writer) (int64, error) {
	res, err := c.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get("/predictions/" + runContext + "/download")
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return 0, fmt.Errorf("download failed: %w", &Error{StatusCode: res.StatusCode(), Message: strings.TrimSpace(string(msg))})
	}

	if c.progress != nil {
		bar := progressbar.NewOptions64(res.RawResponse.ContentLength,
			progressbar.OptionSetDescription("downloading "+runContext+" predictions"),
			progressbar.OptionSetWriter(c.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish() //nolint:errcheck
		dst = io.MultiWriter(dst, bar)
	}

	n, err := io.Copy(dst, body)
	if err != nil {
		return n, fmt.Errorf("error reading prediction download: %w", err)
	}
	return n, nil
}

// Retrain runs a retrain and waits for its outcome. The run is recorded with
// the cli trigger.
func (c *Client) Retrain(ctx context.Context) (api.RetrainResponse, error) {
	var out api.RetrainResponse
	req := c.client.R().SetContext(ctx).SetQueryParam("trigger", "cli").SetResult(&out)
	if err := checkResponse(req.Post("/retrain")); err != nil {
		return out, fmt.Errorf("retrain failed: %w", err)
	}
	return out, nil
}

func (c *Client) ListPredictions(ctx context.Context, limit int) ([]api.PredictionRun, error) {
	var out []api.PredictionRun
	req := c.client.R().SetContext(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := checkResponse(req.Get("/predictions")); err != nil {
		return nil, fmt.Errorf("error listing predictions: %w", err)
	}
	return out, nil
}

func (c *Client) ListRetrainRuns(ctx context.Context, limit int) ([]api.RetrainRun, error) {
	var out []api.RetrainRun
	req := c.client.R().SetContext(ctx).SetResult(&out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := checkResponse(req.Get("/retrain/runs")); err != nil {
		return nil, fmt.Errorf("error listing retrain runs: %w", err)
	}
	return out, nil
}
