package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

const service = "paperless"

// doJSON sends payload (when non-nil) as JSON and decodes the answer into out
// (when non-nil). Failures come back marked with a domain error kind.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any, operation string) error {
	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrapf(err, "marshal %s request", operation)
		}
		body = raw
	}

	err := c.exec.Execute(ctx, "paperless."+operation, func(callCtx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := c.newRequest(callCtx, method, path, query, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrapf(err, "paperless %s request", operation)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return statusError(operation, resp)
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "decode %s response", operation)
		}
		return nil
	}, resilience.ClassifyHTTP)
	return mapError(operation, err)
}

func (c *Client) fetchBlob(ctx context.Context, path string, query url.Values, operation string) (domain.Blob, error) {
	var blob domain.Blob
	err := c.exec.Execute(ctx, "paperless."+operation, func(callCtx context.Context) error {
		req, err := c.newRequest(callCtx, http.MethodGet, path, query, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrapf(err, "paperless %s request", operation)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return statusError(operation, resp)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrapf(err, "read %s body", operation)
		}
		blob = domain.Blob{
			Data:        data,
			ContentType: mediaType(resp.Header.Get("Content-Type")),
			FileName:    attachmentName(resp.Header.Get("Content-Disposition")),
		}
		return nil
	}, resilience.ClassifyHTTP)
	if err != nil {
		return domain.Blob{}, mapError(operation, err)
	}
	return blob, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s %s request", method, path)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	return req, nil
}

func statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &resilience.StatusError{
		Service:    service,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
	}
}

// mapError marks collaborator failures with the domain kind callers branch on.
func mapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr *resilience.StatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusNotFound:
			return domain.WrapError(domain.ErrDocumentNotFound, operation, err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return domain.WrapError(domain.ErrUnauthorized, operation, err)
		case code == http.StatusConflict:
			return domain.WrapError(domain.ErrConflict, operation, err)
		case code == http.StatusBadRequest && isUniqueViolation(statusErr.Body):
			return domain.WrapError(domain.ErrConflict, operation, err)
		case code == http.StatusBadRequest:
			return domain.WrapError(domain.ErrInvalidInput, operation, err)
		}
	}

	if resilience.ClassifyHTTP(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return errors.Wrap(err, operation)
}

func isUniqueViolation(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "already exists") || strings.Contains(lower, "unique")
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func attachmentName(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}
