package authority

import (
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// LeveledZap adapts a zap logger to retryablehttp.  Intermediate request
// failures are logged at WARN because they are retried.
type LeveledZap struct {
	inner *zap.SugaredLogger
}

func (l LeveledZap) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l LeveledZap) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l LeveledZap) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Infow(msg, keysAndValues...)
}

func (l LeveledZap) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debugw(msg, keysAndValues...)
}

// Client is the RemoteActionGateway implementation.  Submissions go through
// a plain pooled client: a POST the authority may already have accepted
// must not be replayed.  Reads go through a retrying client.
type Client struct {
	baseURL string
	submit  *http.Client
	read    *http.Client
	log     *zap.SugaredLogger
}

type Option func(*Client)

// WithHTTPClients replaces both transports.  Tests use it to point the
// gateway at an httptest server without retries.
func WithHTTPClients(submit, read *http.Client) Option {
	return func(c *Client) {
		c.submit = submit
		c.read = read
	}
}

// NewClient builds a gateway for the authority at baseURL.
func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log = log.Named("authority")

	submit := cleanhttp.DefaultPooledClient()
	submit.Timeout = timeout

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledZap{log})
	read := retryClient.StandardClient()
	read.Timeout = timeout

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		submit:  submit,
		read:    read,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
