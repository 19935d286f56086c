package notion

import (
	"context"
	"net/http"
	"strings"

	"habitsync/internal/core"
)

type queryRequest struct {
	StartCursor string         `json:"start_cursor,omitempty"`
	PageSize    int            `json:"page_size,omitempty"`
	Filter      map[string]any `json:"filter,omitempty"`
}

// FetchAll returns every record of a database, following next_cursor until
// the result set is exhausted.
func (c *Client) FetchAll(ctx context.Context, databaseID string) ([]core.RawRecord, error) {
	if strings.TrimSpace(databaseID) == "" {
		return nil, &core.ConfigurationError{Field: "source database id", Reason: "is required"}
	}
	pages, err := c.queryPages(ctx, databaseID, nil)
	if err != nil {
		return nil, err
	}
	records := make([]core.RawRecord, 0, len(pages))
	for _, p := range pages {
		records = append(records, p.toRecord())
	}
	return records, nil
}

func (c *Client) queryPages(ctx context.Context, databaseID string, filter map[string]any) ([]page, error) {
	var (
		out    []page
		cursor string
	)
	for {
		req := queryRequest{StartCursor: cursor, PageSize: c.pageSize, Filter: filter}
		var resp listResponse[page]
		if err := c.do(ctx, "query database "+databaseID, http.MethodPost, idPath("/v1/databases", databaseID)+"/query", nil, req, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Results {
			if p.Archived {
				continue
			}
			out = append(out, p)
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return out, nil
		}
		cursor = *resp.NextCursor
	}
}
