package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/iliyamo/catalogue-reservation/internal/model"
)

const maxBody = 64 << 20 // version payloads can be large

// Submit sends one request and returns the log id the authority assigned
// to it.  It never returns an error: every failure is classified into a
// RemoteOutcome.  A 503 or an acknowledgement flagged busy means the
// authority refused to queue the request right now.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, model.RemoteOutcome) {
	action, ok := wireActions[req.Kind]
	if !ok {
		c.log.Errorw("unknown action kind", "kind", req.Kind)
		return "", model.OutcomeTransportError
	}
	body, err := json.Marshal(submitBody{
		Action:    action,
		Catalogue: req.Catalogue.Code,
		Version:   req.Catalogue.Version.String(),
		Level:     levelOnWire(req.Level),
		Note:      req.Note,
	})
	if err != nil {
		c.log.Errorw("encode submission", "err", err)
		return "", model.OutcomeTransportError
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/actions", bytes.NewReader(body))
	if err != nil {
		c.log.Errorw("build submission", "err", err)
		return "", model.OutcomeTransportError
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.submit.Do(httpReq)
	if err != nil {
		c.log.Warnw("submission failed", "catalogue", req.Catalogue.String(), "err", err)
		return "", model.OutcomeTransportError
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return "", model.OutcomeBusy
	case resp.StatusCode == http.StatusForbidden:
		return "", model.OutcomeForbidden
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", model.OutcomeRejected
	case resp.StatusCode >= 300:
		c.log.Warnw("unexpected submission status", "status", resp.StatusCode)
		return "", model.OutcomeTransportError
	}

	var ack submitAck
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&ack); err != nil {
		c.log.Warnw("undecodable acknowledgement", "err", err)
		return "", model.OutcomeTransportError
	}
	if ack.Busy {
		return "", model.OutcomeBusy
	}
	if strings.TrimSpace(ack.LogID) == "" {
		c.log.Warnw("acknowledgement without log id", "catalogue", req.Catalogue.String())
		return "", model.OutcomeTransportError
	}
	return ack.LogID, model.OutcomeOK
}

// FetchResultLog makes one attempt to read the result log.  A nil log with
// a nil error means the authority has not finished processing yet.
func (c *Client) FetchResultLog(ctx context.Context, logID string) (*ResultLog, error) {
	var out ResultLog
	found, err := c.getJSON(ctx, "/logs/"+url.PathEscape(logID), &out)
	if err != nil || !found {
		return nil, err
	}
	if out.LogID == "" {
		out.LogID = logID
	}
	return &out, nil
}

// InterpretLog classifies a result log.  A present log is always a final
// judgement, so anything that is not an explicit success or a permission
// refusal counts as a rejection.
func (c *Client) InterpretLog(l *ResultLog) model.RemoteOutcome {
	return InterpretLog(l)
}

// InterpretLog is the stateless form of Client.InterpretLog.
func InterpretLog(l *ResultLog) model.RemoteOutcome {
	if l == nil {
		return model.OutcomeRejected
	}
	switch strings.ToUpper(strings.TrimSpace(l.Result)) {
	case "OK", "SUCCESS":
		return model.OutcomeOK
	case "FORBIDDEN":
		return model.OutcomeForbidden
	}
	return model.OutcomeRejected
}

// ExportInternalVersion asks the authority for the current internal
// version of a catalogue.  It returns nil when none exists.
func (c *Client) ExportInternalVersion(ctx context.Context, code string) (*InternalVersion, error) {
	var out InternalVersion
	found, err := c.getJSON(ctx, "/catalogues/"+url.PathEscape(code)+"/internal-version", &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// getJSON issues a GET and decodes a 200 response into dst.  404 and 202
// both mean "not there yet" and report found=false.
func (c *Client) getJSON(ctx context.Context, path string, dst any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.read.Do(req)
	if err != nil {
		return false, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusAccepted, http.StatusNoContent:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return false, nil
	default:
		return false, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(dst); err != nil {
		return false, fmt.Errorf("GET %s: decode: %w", path, err)
	}
	return true, nil
}

func levelOnWire(l model.Level) string {
	if l == model.LevelNone {
		return ""
	}
	return strings.ToLower(string(l))
}
