// Package salesforce provides JWT-authenticated REST API access to Salesforce.
package salesforce

import (
	"context"
	"slices"
	"strings"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the slice of the Salesforce REST API the pipeline uses.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error)
}

// Status codes Salesforce attaches to rejected DML.
const (
	CodeDuplicatesDetected   = "DUPLICATES_DETECTED"
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
)

// InsertError reports a record Salesforce accepted the request for but
// refused to save.
type InsertError struct {
	SObject  string
	Codes    []string
	Messages []string
}

func (e *InsertError) Error() string {
	return "sf: insert " + e.SObject + " failed: " + strings.Join(e.Messages, "; ") +
		" [" + strings.Join(e.Codes, ",") + "]"
}

// Duplicate reports whether an org duplicate rule blocked the insert.
func (e *InsertError) Duplicate() bool {
	return slices.Contains(e.Codes, CodeDuplicatesDetected)
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit caps API calls per second, with a burst of the integer
// part of rps.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// go-salesforce takes no context, so ctx only bounds the limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an authenticated go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *sfClient) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	if err := c.sf.Query(soql, out); err != nil {
		return eris.Wrap(err, "sf: query")
	}
	return nil
}

func (c *sfClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "sf: rate limit")
	}
	result, err := c.sf.InsertOne(sObjectName, record)
	if err != nil {
		return "", eris.Wrapf(err, "sf: insert %s", sObjectName)
	}
	if !result.Success {
		ie := &InsertError{SObject: sObjectName}
		for _, e := range result.Errors {
			ie.Codes = append(ie.Codes, e.StatusCode)
			ie.Messages = append(ie.Messages, e.Message)
		}
		return "", ie
	}
	return result.Id, nil
}
