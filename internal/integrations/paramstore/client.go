package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 32
	defaultCacheTTL  = 15 * time.Minute
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter. Consumers such as the
// OpenAI backend depend on it rather than on *Client.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted SSM parameters and keeps them in a small
// time-bounded cache so warm Lambda invocations skip the round trip.
type Client struct {
	api   ssmAPI
	cache *expirable.LRU[string, string]
}

// Option configures a Client.
type Option func(*options)

type options struct {
	ttl time.Duration
}

// WithCacheTTL sets how long a fetched value is served from memory. A
// non-positive ttl disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	o := options{ttl: defaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{api: api}
	if o.ttl > 0 {
		c.cache = expirable.NewLRU[string, string](defaultCacheSize, nil, o.ttl)
	}
	return c, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	if c.cache != nil {
		if v, ok := c.cache.Get(name); ok {
			return v, nil
		}
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	v := *out.Parameter.Value
	if c.cache != nil {
		c.cache.Add(name, v)
	}
	return v, nil
}

// Invalidate drops a cached value, e.g. after the secret was rotated.
func (c *Client) Invalidate(name string) {
	if c.cache != nil {
		c.cache.Remove(strings.TrimSpace(name))
	}
}
