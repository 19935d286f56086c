package notion

import (
	"habitsync/internal/core"
)

// Wire shapes of the Notion REST API, limited to the fields this package reads.
type (
	listResponse[T any] struct {
		Results    []T     `json:"results"`
		HasMore    bool    `json:"has_more"`
		NextCursor *string `json:"next_cursor"`
	}

	page struct {
		ID         string              `json:"id"`
		Archived   bool                `json:"archived"`
		Properties map[string]property `json:"properties"`
	}

	property struct {
		Type     string        `json:"type"`
		Date     *dateValue    `json:"date"`
		Number   *float64      `json:"number"`
		Checkbox *bool         `json:"checkbox"`
		Formula  *formulaValue `json:"formula"`
		Rollup   *rollupValue  `json:"rollup"`
		Title    []richText    `json:"title"`
		RichText []richText    `json:"rich_text"`
		Select   *namedOption  `json:"select"`
		Status   *namedOption  `json:"status"`
	}

	dateValue struct {
		Start string  `json:"start"`
		End   *string `json:"end,omitempty"`
	}

	formulaValue struct {
		Type    string     `json:"type"`
		Number  *float64   `json:"number"`
		Boolean *bool      `json:"boolean"`
		String  *string    `json:"string"`
		Date    *dateValue `json:"date"`
	}

	rollupValue struct {
		Type   string     `json:"type"`
		Number *float64   `json:"number"`
		Date   *dateValue `json:"date"`
	}

	richText struct {
		Type      string       `json:"type,omitempty"`
		PlainText string       `json:"plain_text,omitempty"`
		Text      *textContent `json:"text,omitempty"`
	}

	textContent struct {
		Content string `json:"content"`
	}

	namedOption struct {
		Name string `json:"name"`
	}

	block struct {
		ID            string `json:"id"`
		Type          string `json:"type"`
		ChildDatabase *struct {
			Title string `json:"title"`
		} `json:"child_database"`
	}

	database struct {
		ID         string                    `json:"id"`
		Properties map[string]propertyConfig `json:"properties"`
	}

	propertyConfig struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	}

	errorResponse struct {
		Object  string `json:"object"`
		Status  int    `json:"status"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// toRecord resolves every property of p into the tagged union.
func (p page) toRecord() core.RawRecord {
	props := make(map[string]core.PropertyValue, len(p.Properties))
	for name, prop := range p.Properties {
		props[name] = prop.value()
	}
	return core.RawRecord{ID: p.ID, Properties: props}
}

func (p property) value() core.PropertyValue {
	switch p.Type {
	case "date":
		return dateOrAbsent(p.Date)
	case "number":
		return numberOrAbsent(p.Number)
	case "checkbox":
		if p.Checkbox == nil {
			return core.AbsentValue()
		}
		return core.BoolValue(*p.Checkbox)
	case "formula":
		if p.Formula == nil {
			return core.AbsentValue()
		}
		switch p.Formula.Type {
		case "number":
			return numberOrAbsent(p.Formula.Number)
		case "boolean":
			if p.Formula.Boolean == nil {
				return core.AbsentValue()
			}
			return core.BoolValue(*p.Formula.Boolean)
		case "string":
			if p.Formula.String == nil {
				return core.AbsentValue()
			}
			return core.TextValue(*p.Formula.String)
		case "date":
			return dateOrAbsent(p.Formula.Date)
		}
	case "rollup":
		if p.Rollup == nil {
			return core.AbsentValue()
		}
		switch p.Rollup.Type {
		case "number":
			return numberOrAbsent(p.Rollup.Number)
		case "date":
			return dateOrAbsent(p.Rollup.Date)
		}
	case "title":
		return textOrAbsent(p.Title)
	case "rich_text":
		return textOrAbsent(p.RichText)
	case "select":
		if p.Select != nil {
			return core.TextValue(p.Select.Name)
		}
	case "status":
		if p.Status != nil {
			return core.TextValue(p.Status.Name)
		}
	}
	return core.AbsentValue()
}

func dateOrAbsent(d *dateValue) core.PropertyValue {
	if d == nil || d.Start == "" {
		return core.AbsentValue()
	}
	return core.DateValue(d.Start)
}

func numberOrAbsent(n *float64) core.PropertyValue {
	if n == nil {
		return core.AbsentValue()
	}
	return core.NumberValue(*n)
}

func textOrAbsent(parts []richText) core.PropertyValue {
	if len(parts) == 0 {
		return core.AbsentValue()
	}
	return core.TextValue(plainText(parts))
}

func plainText(parts []richText) string {
	var s string
	for _, part := range parts {
		switch {
		case part.PlainText != "":
			s += part.PlainText
		case part.Text != nil:
			s += part.Text.Content
		}
	}
	return s
}

func titleText(content string) []richText {
	return []richText{{Type: "text", Text: &textContent{Content: content}}}
}
