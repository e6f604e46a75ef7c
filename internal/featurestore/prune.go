package featurestore

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/incidentsync/internal/tabular"
)

// DefaultRetention keeps 72 hours of incidents.
const DefaultRetention = 72 * time.Hour

// Cutoff returns the newest publish time (epoch seconds) eligible for deletion:
// floor(now_ms/1000) minus the window in whole seconds.
func Cutoff(now time.Time, window time.Duration) int64 {
	return tabular.Seconds(now.UnixMilli()) - int64(window/time.Second)
}

// Predicate renders the delete-by-predicate where clause.
func Predicate(field string, cutoff int64) string {
	return fmt.Sprintf("%s <= %d", field, cutoff)
}

// DeleteResult is one per-feature entry of a deleteFeatures response.
type DeleteResult struct {
	ObjectID int           `json:"objectId"`
	Success  bool          `json:"success"`
	Error    *ServiceError `json:"error,omitempty"`
}

// Pruner deletes features older than a retention window.
type Pruner struct {
	Client *Client
	Field  string
	Window time.Duration
}

// NewPruner returns a pruner using the publish-time column and the given window.
func NewPruner(c *Client, field string, window time.Duration) *Pruner {
	if field == "" {
		field = tabular.PublishField
	}
	if window <= 0 {
		window = DefaultRetention
	}
	return &Pruner{Client: c, Field: field, Window: window}
}

// Prune deletes every feature published at or before the cutoff derived from now
// and returns how many the service reported.
func (p *Pruner) Prune(ctx context.Context, token Token, now time.Time) (int, error) {
	where := Predicate(p.Field, Cutoff(now, p.Window))
	return p.Client.DeleteWhere(ctx, where, token)
}

// DeleteWhere issues a delete-by-predicate request. An empty deleteResults list is
// reported as a PruneError carrying the raw body.
func (c *Client) DeleteWhere(ctx context.Context, where string, token Token) (int, error) {
	body, err := c.postMultipart(ctx, c.DeleteURL(), []formField{
		{"f", "json"},
		{"where", where},
		{"token", token.AccessToken},
	}, nil)
	if err != nil {
		return 0, &PruneError{Where: where, Body: string(body), Err: err}
	}
	var resp struct {
		DeleteResults []DeleteResult `json:"deleteResults"`
	}
	if err := decode(body, &resp); err != nil {
		return 0, &PruneError{Where: where, Body: string(body), Err: err}
	}
	if len(resp.DeleteResults) == 0 {
		return 0, &PruneError{Where: where, Body: string(body)}
	}
	return len(resp.DeleteResults), nil
}
