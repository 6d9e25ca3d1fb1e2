package splunk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// maxSchemaFields caps the fields reported per index.
const maxSchemaFields = 10

// Schema is the discovered data map: which indexes hold data and which
// fields they carry.
type Schema struct {
	DaysBack int           `json:"days_back"`
	Indexes  []IndexSchema `json:"indexes"`
}

// IndexSchema is one index in a Schema. Fields is empty when discovery
// failed for the index.
type IndexSchema struct {
	Name       string   `json:"name"`
	EventCount int64    `json:"event_count"`
	Fields     []string `json:"fields,omitempty"`
}

// Index returns the named index entry.
func (s *Schema) Index(name string) (IndexSchema, bool) {
	if s == nil {
		return IndexSchema{}, false
	}
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSchema{}, false
}

// FieldSummarySPL is the search used to sample an index's fields.
func FieldSummarySPL(index string, daysBack int) string {
	return fmt.Sprintf("search index=%s earliest=-%dd | head 5 | fieldsummary | where count > 0 | table field", index, daysBack)
}

// DiscoverSchema lists non-internal indexes with events and samples their
// fields over the last daysBack days. A failure on one index leaves its
// fields empty; only a failure to list indexes is returned as an error.
func (c *Client) DiscoverSchema(ctx context.Context, daysBack int) (*Schema, error) {
	if daysBack <= 0 {
		daysBack = 30
	}
	indexes, err := c.ListIndexes(ctx)
	if err != nil {
		return nil, err
	}

	schema := &Schema{DaysBack: daysBack}
	timeRange := fmt.Sprintf("-%dd", daysBack)
	for _, idx := range indexes {
		if idx.Internal() || idx.TotalEventCount == 0 {
			continue
		}

		entry := IndexSchema{Name: idx.Name, EventCount: idx.TotalEventCount}
		rows, err := c.Search(ctx, FieldSummarySPL(idx.Name, daysBack), timeRange, "now", 0)
		if err != nil {
			slog.Warn("schema: failed to get fields", "index", idx.Name, "err", err)
		}
		for _, r := range rows {
			if f := stringField(r, "field"); f != "" {
				entry.Fields = append(entry.Fields, f)
			}
			if len(entry.Fields) == maxSchemaFields {
				break
			}
		}
		schema.Indexes = append(schema.Indexes, entry)
	}

	slog.Info("schema discovered", "indexes", len(schema.Indexes), "days_back", daysBack)
	return schema, nil
}

// FormatSchema renders a Schema as the markdown data map given to the
// query agent.
func FormatSchema(s *Schema) string {
	if s == nil || len(s.Indexes) == 0 {
		return "No indexes with data found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### SYSTEM DATA MAP (Last %d Days)\n", s.DaysBack)
	for _, idx := range s.Indexes {
		fmt.Fprintf(&b, "\n**Index:** `%s`\n", idx.Name)
		fmt.Fprintf(&b, "- **Event Count:** %d\n", idx.EventCount)
		if len(idx.Fields) > 0 {
			fmt.Fprintf(&b, "- **Key Fields:** %s\n", strings.Join(idx.Fields, ", "))
		} else {
			b.WriteString("- **Key Fields:** (unable to discover)\n")
		}
	}
	return b.String()
}
