// Package influx writes annotation events to InfluxDB over HTTP.
//
// Two wire formats are supported. ProtocolLine posts InfluxDB 1.x line
// protocol to /write. ProtocolSeries posts the InfluxDB 0.8 JSON series
// format to /db/<database>/series, which is what Grafana's legacy InfluxDB
// annotation queries read.
package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/blackwell-systems/rpmannotate/internal/annotate"
	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
)

// Wire protocols.
const (
	ProtocolLine   = "line"
	ProtocolSeries = "series"
)

// Options configures the InfluxDB client.
type Options struct {
	URL       string
	Database  string
	Username  string
	Password  string
	Protocol  string
	Precision string
	Timeout   time.Duration
}

// Client writes annotation events to InfluxDB.
type Client struct {
	opts Options
	http *resty.Client
}

var _ annotate.Sink = (*Client)(nil)

// New creates a Client. Requests are never retried: the next collection
// cycle is the retry.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "influxdb url is required")
	}
	if opts.Database == "" {
		return nil, apperrors.New(apperrors.ErrCodeConfig, "influxdb database is required")
	}
	switch opts.Protocol {
	case "":
		opts.Protocol = ProtocolLine
	case ProtocolLine, ProtocolSeries:
	default:
		return nil, apperrors.New(apperrors.ErrCodeConfig, fmt.Sprintf("unknown influxdb protocol %q", opts.Protocol))
	}
	if opts.Precision == "" {
		opts.Precision = "s"
	}
	if _, err := precisionUnit(opts.Precision); err != nil {
		return nil, err
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(opts.URL, "/")).
		SetRetryCount(0).
		SetHeader("User-Agent", "rpmannotate")
	if opts.Timeout > 0 {
		c.SetTimeout(opts.Timeout)
	}

	return &Client{opts: opts, http: c}, nil
}

// Write sends events in a single request.
func (c *Client) Write(ctx context.Context, events []annotate.Event) error {
	if len(events) == 0 {
		return nil
	}

	req := c.http.R().SetContext(ctx)

	var path string
	switch c.opts.Protocol {
	case ProtocolSeries:
		body, err := seriesBody(events)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeSink, "encode series payload", err)
		}
		path = "/db/" + c.opts.Database + "/series"
		req.SetHeader("Content-Type", "application/json").
			SetQueryParams(map[string]string{"u": c.opts.Username, "p": c.opts.Password}).
			SetBody(body)
	default:
		body, err := lineBody(events, c.opts.Precision)
		if err != nil {
			return err
		}
		path = "/write"
		params := map[string]string{"db": c.opts.Database, "precision": c.opts.Precision}
		if c.opts.Username != "" {
			params["u"] = c.opts.Username
			params["p"] = c.opts.Password
		}
		req.SetHeader("Content-Type", "text/plain; charset=utf-8").
			SetQueryParams(params).
			SetBody(body)
	}

	resp, err := req.Post(path)
	if err != nil {
		return apperrors.WrapWithContext(apperrors.ErrCodeSink, "influxdb request failed", err,
			map[string]any{"url": c.opts.URL + path})
	}

	// /write answers 204, the 0.8 series endpoint 200.
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	msg := fmt.Sprintf("influxdb returned %d: %s", code, serverMessage(resp.Body()))
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return apperrors.Wrap(apperrors.ErrCodeSink, msg,
			apperrors.New(apperrors.ErrCodeUnauthorized, "influxdb rejected the configured credentials"))
	}
	return apperrors.New(apperrors.ErrCodeSink, msg)
}

// serverMessage extracts InfluxDB's {"error": "..."} message, falling back to
// the raw body.
func serverMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error"); msg.Exists() {
			return msg.String()
		}
	}
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "empty response"
	}
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}

type seriesPoint struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Points  [][]string `json:"points"`
}

func seriesBody(events []annotate.Event) ([]byte, error) {
	payload := make([]seriesPoint, 0, len(events))
	for _, ev := range events {
		payload = append(payload, seriesPoint{
			Name:    ev.Series,
			Columns: []string{"title", "text"},
			Points:  [][]string{{ev.Title, ev.Text}},
		})
	}
	return json.Marshal(payload)
}

func lineBody(events []annotate.Event, precision string) (string, error) {
	unit, err := precisionUnit(precision)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, ev := range events {
		b.WriteString(escapeMeasurement(ev.Series))
		b.WriteString(` title="`)
		b.WriteString(escapeString(ev.Title))
		b.WriteString(`",text="`)
		b.WriteString(escapeString(ev.Text))
		b.WriteString(`"`)
		if !ev.Time.IsZero() {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatInt(ev.Time.UnixNano()/int64(unit), 10))
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func precisionUnit(precision string) (time.Duration, error) {
	switch precision {
	case "ns", "n":
		return time.Nanosecond, nil
	case "u":
		return time.Microsecond, nil
	case "ms":
		return time.Millisecond, nil
	case "s":
		return time.Second, nil
	case "m":
		return time.Minute, nil
	case "h":
		return time.Hour, nil
	default:
		return 0, apperrors.New(apperrors.ErrCodeConfig, fmt.Sprintf("unknown influxdb precision %q", precision))
	}
}

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `, "\n", `\n`)
	stringEscaper      = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
)

func escapeMeasurement(s string) string {
	return measurementEscaper.Replace(s)
}

func escapeString(s string) string {
	return stringEscaper.Replace(s)
}
