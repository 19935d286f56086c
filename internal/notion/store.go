package notion

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"habitsync/internal/core"
	"habitsync/internal/log"
	"habitsync/internal/summary"
)

const summaryIcon = "🧮"

// FindOrCreate looks for a child database titled like the configured summary
// title under parentID and creates it when none exists. Existing databases
// get any missing habit columns added.
func (c *Client) FindOrCreate(ctx context.Context, parentID string, habits []string) (string, error) {
	if strings.TrimSpace(parentID) == "" {
		return "", &core.ConfigurationError{Field: "parent page id", Reason: "is required"}
	}

	id, err := c.findChildDatabase(ctx, parentID)
	if err != nil {
		return "", err
	}
	if id != "" {
		logFor(ctx).InfoContext(ctx, "Found existing summary database", log.FieldSummaryID, id, "title", c.title)
		if err := c.EnsureSchema(ctx, id, habits); err != nil {
			return "", err
		}
		return id, nil
	}

	body := map[string]any{
		"parent":     map[string]any{"type": "page_id", "page_id": parentID},
		"title":      titleText(c.title),
		"icon":       map[string]any{"type": "emoji", "emoji": summaryIcon},
		"properties": c.schemaProperties(habits, true),
	}
	var created database
	if err := c.do(ctx, "create summary database", http.MethodPost, "/v1/databases", nil, body, &created); err != nil {
		return "", err
	}
	logFor(ctx).InfoContext(ctx, "Created summary database", log.FieldSummaryID, created.ID, log.FieldParentID, parentID, "columns", len(habits))
	return created.ID, nil
}

func (c *Client) findChildDatabase(ctx context.Context, parentID string) (string, error) {
	want := strings.ToLower(c.title)
	cursor := ""
	for {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var resp listResponse[block]
		if err := c.do(ctx, "list children of "+parentID, http.MethodGet, idPath("/v1/blocks", parentID)+"/children", q, nil, &resp); err != nil {
			return "", err
		}
		for _, b := range resp.Results {
			if b.Type != "child_database" || b.ChildDatabase == nil {
				continue
			}
			if strings.ToLower(strings.TrimSpace(b.ChildDatabase.Title)) == want {
				return b.ID, nil
			}
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return "", nil
		}
		cursor = *resp.NextCursor
	}
}

// EnsureSchema adds the date column and any missing habit columns.
func (c *Client) EnsureSchema(ctx context.Context, resourceID string, habits []string) error {
	var db database
	if err := c.do(ctx, "retrieve database "+resourceID, http.MethodGet, idPath("/v1/databases", resourceID), nil, nil, &db); err != nil {
		return err
	}

	for name, prop := range db.Properties {
		if prop.Type == "title" && name != c.keyProperty {
			return &core.ConfigurationError{
				Field:  "summary database " + resourceID,
				Reason: fmt.Sprintf("has title property %q, expected %q", name, c.keyProperty),
			}
		}
	}

	missing := map[string]any{}
	for name, cfg := range c.schemaProperties(habits, false) {
		existing, ok := db.Properties[name]
		if !ok {
			missing[name] = cfg
			continue
		}
		wantType := "number"
		if name == DatePropertyName {
			wantType = "date"
		}
		if existing.Type != wantType {
			return &core.ConfigurationError{
				Field:  "summary database " + resourceID,
				Reason: fmt.Sprintf("column %q has type %s, expected %s", name, existing.Type, wantType),
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	body := map[string]any{"properties": missing}
	if err := c.do(ctx, "update database schema "+resourceID, http.MethodPatch, idPath("/v1/databases", resourceID), nil, body, nil); err != nil {
		return err
	}
	logFor(ctx).InfoContext(ctx, "Added summary columns", log.FieldSummaryID, resourceID, "columns", sortedNames(missing))
	return nil
}

// Upsert updates the entry whose key equals the month label, or inserts one.
// Habit columns without a value for the month are cleared.
func (c *Client) Upsert(ctx context.Context, resourceID string, row core.MonthlyRow) error {
	label := row.Month.Label()
	filter := map[string]any{
		"property": c.keyProperty,
		"title":    map[string]any{"equals": label},
	}
	existing, err := c.queryPages(ctx, resourceID, filter)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", label, err)
	}

	props := map[string]any{
		DatePropertyName: map[string]any{"date": map[string]any{"start": row.Month.FirstDay().String()}},
	}
	for habit, avg := range row.Averages {
		props[summary.ColumnName(habit)] = map[string]any{"number": avg}
	}

	if len(existing) > 0 {
		target := existing[0]
		if len(existing) > 1 {
			logFor(ctx).WarnContext(ctx, "Duplicate summary entries for month, updating the first",
				log.FieldSummaryID, resourceID, log.FieldMonth, label, "duplicates", len(existing))
		}
		for name, p := range target.Properties {
			if _, set := props[name]; set {
				continue
			}
			if p.Type == "number" && strings.HasPrefix(name, summary.ColumnName("")) {
				props[name] = map[string]any{"number": nil}
			}
		}
		body := map[string]any{"properties": props}
		if err := c.do(ctx, "update summary entry "+label, http.MethodPatch, idPath("/v1/pages", target.ID), nil, body, nil); err != nil {
			return err
		}
		logFor(ctx).InfoContext(ctx, "Updated summary month",
			log.FieldOperation, log.OpUpsert, log.FieldMonth, label, "page_id", target.ID, "averages", row.Averages)
		return nil
	}

	props[c.keyProperty] = map[string]any{"title": titleText(label)}
	body := map[string]any{
		"parent":     map[string]any{"database_id": resourceID},
		"properties": props,
	}
	var created page
	if err := c.do(ctx, "create summary entry "+label, http.MethodPost, "/v1/pages", nil, body, &created); err != nil {
		return err
	}
	logFor(ctx).InfoContext(ctx, "Added summary month",
		log.FieldOperation, log.OpUpsert, log.FieldMonth, label, "page_id", created.ID, "averages", row.Averages)
	return nil
}

// ListMonths reads every entry of the summary database. Entries whose key is
// not a month label are ignored.
func (c *Client) ListMonths(ctx context.Context, resourceID string) ([]core.MonthlyRow, error) {
	pages, err := c.queryPages(ctx, resourceID, nil)
	if err != nil {
		return nil, err
	}
	prefix := summary.ColumnName("")
	out := make([]core.MonthlyRow, 0, len(pages))
	for _, p := range pages {
		key := p.Properties[c.keyProperty]
		month, err := core.ParseMonthLabel(strings.TrimSpace(plainText(key.Title)))
		if err != nil {
			logFor(ctx).DebugContext(ctx, "Ignoring summary entry without month label", "page_id", p.ID, "error", err)
			continue
		}
		row := core.MonthlyRow{Month: month, Averages: map[string]float64{}}
		for name, prop := range p.Properties {
			if prop.Type != "number" || prop.Number == nil || !strings.HasPrefix(name, prefix) {
				continue
			}
			row.Averages[strings.TrimPrefix(name, prefix)] = *prop.Number
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out, nil
}

func (c *Client) schemaProperties(habits []string, withKey bool) map[string]any {
	props := map[string]any{
		DatePropertyName: map[string]any{"date": map[string]any{}},
	}
	if withKey {
		props[c.keyProperty] = map[string]any{"title": map[string]any{}}
	}
	for _, h := range habits {
		props[summary.ColumnName(h)] = map[string]any{"number": map[string]any{"format": "number"}}
	}
	return props
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
